package secretvault

import (
	"bytes"
	"testing"
	"time"
)

func TestStoreReadRoundTrip(t *testing.T) {
	secret := []byte("correct horse battery staple seed material")
	entry, err := Store("wallet-1", secret, SecretSeed, "123456")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := Read(entry, "123456")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("Read() = %q, want %q", got, secret)
	}
}

func TestReadWrongPin(t *testing.T) {
	entry, err := Store("wallet-1", []byte("seed"), SecretSeed, "123456")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := Read(entry, "654321"); err != ErrInvalidPin {
		t.Errorf("Read() error = %v, want ErrInvalidPin", err)
	}
}

func TestReadTamperedCiphertext(t *testing.T) {
	entry, err := Store("wallet-1", []byte("seed"), SecretSeed, "123456")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	entry.Cipher[0] ^= 0xFF
	if _, err := Read(entry, "123456"); err != ErrInvalidPin {
		t.Errorf("Read() error = %v, want ErrInvalidPin (tamper indistinguishable from wrong pin)", err)
	}
}

func TestCosignerIndexRange(t *testing.T) {
	tests := []struct {
		index   int
		wantErr bool
	}{
		{0, false}, {14, false}, {-1, true}, {15, true},
	}
	for _, tt := range tests {
		if err := CosignerIndex(tt.index); (err != nil) != tt.wantErr {
			t.Errorf("CosignerIndex(%d) error = %v, wantErr %v", tt.index, err, tt.wantErr)
		}
	}
}

func TestLockoutSchedule(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{4, 0},
		{5, 30 * time.Second},
		{7, 30 * time.Second},
		{8, 60 * time.Second},
		{10, 300 * time.Second},
		{12, 1800 * time.Second},
		{14, 3600 * time.Second},
		{20, 3600 * time.Second},
	}
	for _, tt := range tests {
		state := &PinAuthState{}
		now := time.Now()
		var got time.Duration
		for i := 0; i < tt.attempts; i++ {
			got = state.RecordFailure(now)
		}
		if tt.attempts == 0 {
			continue
		}
		if got != tt.want {
			t.Errorf("after %d attempts, lockout = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestCanResetAtFourteen(t *testing.T) {
	state := &PinAuthState{}
	now := time.Now()
	for i := 0; i < 13; i++ {
		state.RecordFailure(now)
	}
	if state.CanReset() {
		t.Error("CanReset() = true before 14 attempts")
	}
	state.RecordFailure(now)
	if !state.CanReset() {
		t.Error("CanReset() = false at 14 attempts")
	}
}

func TestRecordSuccessResets(t *testing.T) {
	state := &PinAuthState{}
	now := time.Now()
	state.RecordFailure(now)
	state.RecordFailure(now)
	state.RecordSuccess()
	if state.Attempts != 0 || state.LockoutUntil != 0 {
		t.Errorf("RecordSuccess() did not reset state: %+v", state)
	}
}
