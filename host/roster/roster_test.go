package roster

import "testing"

const sampleRoster = `
locomotives:
  - name: shunter
    address: 3
    max_speed: 20
  - name: express
    address: 35
    notes: "sound decoder"
`

func TestParseAndLookup(t *testing.T) {
	r, err := Parse([]byte(sampleRoster))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	loco, ok := r.Lookup("shunter")
	if !ok {
		t.Fatal("shunter not found")
	}
	if loco.Address != 3 || loco.MaxSpeed != 20 {
		t.Errorf("unexpected entry: %+v", loco)
	}

	if _, ok := r.Lookup("ghost"); ok {
		t.Error("lookup of unknown name succeeded")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "express" || names[1] != "shunter" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestClampSpeed(t *testing.T) {
	capped := Locomotive{MaxSpeed: 20}
	if got := capped.ClampSpeed(28); got != 20 {
		t.Errorf("expected clamp to 20, got %d", got)
	}
	if got := capped.ClampSpeed(10); got != 10 {
		t.Errorf("expected 10 unchanged, got %d", got)
	}
	uncapped := Locomotive{}
	if got := uncapped.ClampSpeed(28); got != 28 {
		t.Errorf("expected 28 unchanged, got %d", got)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad address", "locomotives:\n  - name: x\n    address: 200\n"},
		{"zero address", "locomotives:\n  - name: x\n    address: 0\n"},
		{"bad speed", "locomotives:\n  - name: x\n    address: 3\n    max_speed: 40\n"},
		{"empty name", "locomotives:\n  - name: \"\"\n    address: 3\n"},
		{"duplicate", "locomotives:\n  - name: x\n    address: 3\n  - name: x\n    address: 4\n"},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.yaml)); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
