package backup

import (
	"testing"

	"github.com/dan/vault-plugin-secrets-btc/normalizer"
)

func TestExportImportRoundTrip(t *testing.T) {
	record := normalizer.Record{
		ID:   normalizer.NewID(),
		Name: "test-wallet",
		Type: normalizer.TypeHDMnemonic,
	}

	blob, err := Export(record, nil, nil, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	payload, err := Import(blob, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if payload.Record.ID != record.ID {
		t.Errorf("Record.ID = %q, want %q", payload.Record.ID, record.ID)
	}
	if payload.Record.Name != "test-wallet" {
		t.Errorf("Record.Name = %q, want test-wallet", payload.Record.Name)
	}
}

func TestImportWrongPasswordFails(t *testing.T) {
	record := normalizer.Record{ID: normalizer.NewID(), Name: "w"}
	blob, err := Export(record, nil, nil, "right-password")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if _, err := Import(blob, "wrong-password"); err != ErrInvalidPassword {
		t.Fatalf("Import() error = %v, want ErrInvalidPassword", err)
	}
}

func TestImportRejectsFutureFormatVersion(t *testing.T) {
	record := normalizer.Record{ID: normalizer.NewID(), Name: "w"}
	blob, err := Export(record, nil, nil, "pw")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	blob.FormatVersion = formatVersion + 1

	if _, err := Import(blob, "pw"); err == nil {
		t.Fatal("expected an error for an unsupported format version")
	}
}
