package registry

import (
	"errors"
	"testing"
)

func TestRegister_HandlesAreSequentialFromOne(t *testing.T) {
	r := New()

	h1, err := r.Register("VideoApp", "1.2", ":1.50")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if h1 != 1 {
		t.Errorf("first handle = %d, want 1", h1)
	}

	h2, err := r.Register("VoiceApp", "1.0", ":1.51")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if h2 != 2 {
		t.Errorf("second handle = %d, want 2", h2)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	r := New()

	h1, err := r.Register("App", "1.0", ":1.7")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	h2, err := r.Register("App", "1.0", ":1.7")
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if h1 != h2 {
		t.Errorf("re-registration returned %d, want %d", h2, h1)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1 (no duplicate record)", r.Len())
	}
}

func TestRegister_Conflicts(t *testing.T) {
	tests := []struct {
		name    string
		first   [3]string // process name, lib version, sender
		second  [3]string
		wantErr error
	}{
		{
			name:    "same name different sender",
			first:   [3]string{"App", "1.0", ":1.1"},
			second:  [3]string{"App", "1.0", ":1.2"},
			wantErr: ErrNameClaimed,
		},
		{
			name:    "same sender different name",
			first:   [3]string{"App", "1.0", ":1.1"},
			second:  [3]string{"Other", "1.0", ":1.1"},
			wantErr: ErrSenderRegistered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			if _, err := r.Register(tt.first[0], tt.first[1], tt.first[2]); err != nil {
				t.Fatalf("first Register: %v", err)
			}
			_, err := r.Register(tt.second[0], tt.second[1], tt.second[2])
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("second Register err = %v, want %v", err, tt.wantErr)
			}
			if r.Len() != 1 {
				t.Errorf("Len = %d, want 1", r.Len())
			}
		})
	}
}

func TestRegister_EmptyName(t *testing.T) {
	r := New()
	if _, err := r.Register("", "1.0", ":1.1"); !errors.Is(err, ErrEmptyName) {
		t.Errorf("err = %v, want ErrEmptyName", err)
	}
}

func TestUnregister(t *testing.T) {
	r := New()
	h, _ := r.Register("App", "1.0", ":1.1")

	if r.Unregister(999) {
		t.Error("Unregister(999) = true, want false")
	}
	if !r.Unregister(h) {
		t.Error("Unregister(valid) = false, want true")
	}
	if r.Unregister(h) {
		t.Error("second Unregister = true, want false")
	}
	if r.Lookup(h) != nil {
		t.Error("Lookup after Unregister returned a record")
	}

	// Name and sender become free again.
	if _, err := r.Register("App", "1.0", ":1.2"); err != nil {
		t.Errorf("re-claim after unregister: %v", err)
	}
}

func TestHandlesNotReused(t *testing.T) {
	r := New()
	h1, _ := r.Register("A", "1.0", ":1.1")
	r.Unregister(h1)
	h2, _ := r.Register("B", "1.0", ":1.2")
	if h2 == h1 {
		t.Errorf("handle %d reused after unregister", h1)
	}
}

func TestDropSender(t *testing.T) {
	r := New()
	h, _ := r.Register("App", "1.0", ":1.9")

	if r.DropSender(":1.unknown") {
		t.Error("DropSender(unknown) = true, want false")
	}
	if !r.DropSender(":1.9") {
		t.Error("DropSender = false, want true")
	}
	if r.Lookup(h) != nil {
		t.Error("record survived DropSender")
	}
}

func TestLookupBySender(t *testing.T) {
	r := New()
	h, _ := r.Register("App", "2.1", ":1.4")
	rec := r.LookupBySender(":1.4")
	if rec == nil || rec.Handle != h {
		t.Fatalf("LookupBySender = %+v, want handle %d", rec, h)
	}
	if r.LookupBySender(":1.5") != nil {
		t.Error("LookupBySender(unknown) returned a record")
	}
}
