package disasm

import "testing"

func TestX86SingleByteOpcodes(t *testing.T) {
	cases := []struct {
		b      byte
		mnem   string
		length int
	}{
		{0x90, "nop", 1},
		{0xc3, "ret", 1},
		{0xcc, "int3", 1},
		{0xc9, "leave", 1},
		{0xf4, "hlt", 1},
	}
	for _, c := range cases {
		mnem, length := X86(0x1000, [4]byte{c.b, 0, 0, 0})
		if mnem != c.mnem || length != c.length {
			t.Errorf("X86(%#x) = (%q, %d), want (%q, %d)", c.b, mnem, length, c.mnem, c.length)
		}
	}
}

func TestX86PushPop(t *testing.T) {
	mnem, length := X86(0x1000, [4]byte{0x50, 0, 0, 0}) // push rax
	if mnem != "push RAX" || length != 1 {
		t.Fatalf("push RAX decoded as (%q, %d)", mnem, length)
	}
	mnem, length = X86(0x1000, [4]byte{0x5f, 0, 0, 0}) // pop rdi
	if mnem != "pop RDI" || length != 1 {
		t.Fatalf("pop RDI decoded as (%q, %d)", mnem, length)
	}
}

func TestX86CallRel32(t *testing.T) {
	// call to addr+5-1 = addr+4, i.e. rel32 = -1
	mnem, length := X86(0x2000, [4]byte{0xe8, 0xff, 0xff, 0xff})
	if length != 5 {
		t.Fatalf("call length = %d, want 5", length)
	}
	want := "call 0x2004"
	if mnem != want {
		t.Fatalf("call target = %q, want %q", mnem, want)
	}
}

func TestX86ShortJmpRel8(t *testing.T) {
	mnem, length := X86(0x3000, [4]byte{0xeb, 0x10, 0, 0}) // jmp +16
	if length != 2 {
		t.Fatalf("short jmp length = %d, want 2", length)
	}
	if mnem != "jmp 0x3012" {
		t.Fatalf("short jmp target = %q, want jmp 0x3012", mnem)
	}
}

func TestX86ConditionalShortJump(t *testing.T) {
	// 0x74 = "jz rel8"
	mnem, length := X86(0x4000, [4]byte{0x74, 0x02, 0, 0})
	if length != 2 {
		t.Fatalf("conditional jump length = %d, want 2", length)
	}
	if mnem != "jz 0x4004" {
		t.Fatalf("conditional jump = %q, want jz 0x4004", mnem)
	}
}

func TestX86ModRMRegisterDirect(t *testing.T) {
	// mov r/m64, r64 with mod=11 (register-direct): opcode + modrm = 2 bytes
	mnem, length := X86(0x5000, [4]byte{0x89, 0xc0, 0, 0})
	if length != 2 {
		t.Fatalf("register-direct mov length = %d, want 2", length)
	}
	if mnem != "mov r/m64, r64" {
		t.Fatalf("mnemonic = %q", mnem)
	}
}

func TestX86UnknownOpcodeAdvancesByOne(t *testing.T) {
	mnem, length := X86(0x6000, [4]byte{0xd6, 0, 0, 0}) // undefined on amd64
	if length != 1 {
		t.Fatalf("unknown opcode length = %d, want 1", length)
	}
	if mnem != "db 0xd6" {
		t.Fatalf("unknown opcode mnemonic = %q", mnem)
	}
}
