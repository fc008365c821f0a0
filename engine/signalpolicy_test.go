package engine

import "testing"

func TestSignalPolicyDefaultsToPassSilently(t *testing.T) {
	tbl := NewSignalPolicyTable()
	d := tbl.Resolve(17) // SIGCHLD, arbitrary unconfigured signal
	if d.Catch || !d.Pass {
		t.Fatalf("default disposition = %+v, want {Catch:false Pass:true}", d)
	}
}

func TestSignalPolicySetAndRemove(t *testing.T) {
	tbl := NewSignalPolicyTable()
	tbl.Set(2, SignalDisposition{Catch: true, Pass: false}) // SIGINT
	d := tbl.Resolve(2)
	if !d.Catch || d.Pass {
		t.Fatalf("after Set, disposition = %+v", d)
	}
	tbl.Remove(2)
	d = tbl.Resolve(2)
	if d.Catch || !d.Pass {
		t.Fatalf("after Remove, disposition = %+v, want default", d)
	}
}

func TestSignalPolicyAlwaysPassThrough(t *testing.T) {
	tbl := NewSignalPolicyTable()
	tbl.Set(sigPWR, SignalDisposition{Catch: true, Pass: false})
	d := tbl.Resolve(sigPWR)
	if !d.Pass {
		t.Fatalf("SIGPWR must always pass through, got %+v", d)
	}
	tbl.Set(sigXCPU, SignalDisposition{Catch: true, Pass: false})
	d = tbl.Resolve(sigXCPU)
	if !d.Pass {
		t.Fatalf("SIGXCPU must always pass through, got %+v", d)
	}
}
