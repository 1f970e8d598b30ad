package pte

import "testing"

func TestPermPredicates(t *testing.T) {
	tests := []struct {
		perm                   Perm
		present, writable, cow bool
		user, userPresent      bool
	}{
		{0, false, false, false, false, false},
		{P | U, true, false, false, true, true},
		{P | U | W, true, true, false, true, true},
		{P | U | COW, true, false, true, true, true},
		{P | W, true, true, false, false, false},
	}
	for _, tt := range tests {
		if got := tt.perm.IsPresent(); got != tt.present {
			t.Errorf("%s: IsPresent = %v", tt.perm, got)
		}
		if got := tt.perm.IsWritable(); got != tt.writable {
			t.Errorf("%s: IsWritable = %v", tt.perm, got)
		}
		if got := tt.perm.IsCOW(); got != tt.cow {
			t.Errorf("%s: IsCOW = %v", tt.perm, got)
		}
		if got := tt.perm.IsUser(); got != tt.user {
			t.Errorf("%s: IsUser = %v", tt.perm, got)
		}
		if got := tt.perm.IsUserPresent(); got != tt.userPresent {
			t.Errorf("%s: IsUserPresent = %v", tt.perm, got)
		}
	}
}

func TestValidSyscall(t *testing.T) {
	tests := []struct {
		perm Perm
		want bool
	}{
		{P | U, true},
		{P | U | W, true},
		{P | U | COW, true},
		{P | W, false},
		{U, false},
		{P | U | PCD, false},
		{P | U | PS, false},
	}
	for _, tt := range tests {
		if got := tt.perm.ValidSyscall(); got != tt.want {
			t.Errorf("ValidSyscall(%s) = %v, want %v", tt.perm, got, tt.want)
		}
	}
}

func TestEntryRoundTrip(t *testing.T) {
	e := MakeEntry(0x1234, P|U|COW)
	if e.PPN() != 0x1234 {
		t.Fatalf("PPN = %#x, want 0x1234", e.PPN())
	}
	if e.Perm() != P|U|COW {
		t.Fatalf("Perm = %s, want P|U|COW", e.Perm())
	}
	if !e.IsCOW() || e.IsWritable() {
		t.Fatalf("unexpected predicates for %s", e)
	}
}

func TestPermString(t *testing.T) {
	if s := (P | U | COW).String(); s != "P|U|COW" {
		t.Fatalf("String = %q", s)
	}
	if s := Perm(0).String(); s != "-" {
		t.Fatalf("String(0) = %q", s)
	}
}

func TestLayout(t *testing.T) {
	if USTACKTOP != 0xeebfe000 {
		t.Errorf("USTACKTOP = %#x", USTACKTOP)
	}
	if UTEMP != 0x400000 {
		t.Errorf("UTEMP = %#x", UTEMP)
	}
	if PFTEMP != 0x7ff000 {
		t.Errorf("PFTEMP = %#x", PFTEMP)
	}
	if PFTEMP < UTEMP || PFTEMP >= UTEXT {
		t.Errorf("PFTEMP %#x outside [UTEMP, UTEXT)", PFTEMP)
	}
}

func TestAddressHelpers(t *testing.T) {
	va := VA(0x00801234)
	if RoundDown(va) != 0x00801000 {
		t.Errorf("RoundDown = %#x", RoundDown(va))
	}
	if PGNUM(va) != 0x801 {
		t.Errorf("PGNUM = %#x", PGNUM(va))
	}
	if PDX(va) != 2 || PTX(va) != 1 {
		t.Errorf("PDX/PTX = %d/%d", PDX(va), PTX(va))
	}
	if PGOFF(va) != 0x234 {
		t.Errorf("PGOFF = %#x", PGOFF(va))
	}
	if PageVA(PGNUM(va)) != RoundDown(va) {
		t.Errorf("PageVA(PGNUM) = %#x", PageVA(PGNUM(va)))
	}
	if Aligned(va) || !Aligned(RoundDown(va)) {
		t.Error("Aligned mismatch")
	}
}
