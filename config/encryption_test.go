package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func writeTestKey(t *testing.T, passphrase string) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEncryptStringRoundTrip(t *testing.T) {
	keyPath := writeTestKey(t, "")

	mgr := NewEncryptionManager(EncryptionSSHKey, keyPath)
	if err := mgr.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	stored, err := mgr.EncryptString("sk-secret")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	if !strings.HasPrefix(stored, encryptedPrefix) {
		t.Errorf("stored value %q lacks prefix", stored)
	}
	if strings.Contains(stored, "sk-secret") {
		t.Error("stored value contains the plain credential")
	}

	// A fresh manager over the same key must decrypt what the first wrote.
	other := NewEncryptionManager(EncryptionSSHKey, keyPath)
	if err := other.Initialize(); err != nil {
		t.Fatal(err)
	}
	plain, err := other.DecryptString(stored)
	if err != nil {
		t.Fatalf("DecryptString() error = %v", err)
	}
	if plain != "sk-secret" {
		t.Errorf("DecryptString() = %q, want sk-secret", plain)
	}
}

func TestEncryptStringKeepsEmpty(t *testing.T) {
	mgr := NewEncryptionManager(EncryptionSSHKey, writeTestKey(t, ""))
	if err := mgr.Initialize(); err != nil {
		t.Fatal(err)
	}

	stored, err := mgr.EncryptString("")
	if err != nil {
		t.Fatal(err)
	}
	if stored != "" {
		t.Errorf("EncryptString(\"\") = %q, want empty", stored)
	}
}

func TestDecryptStringPassesThroughPlainValues(t *testing.T) {
	mgr := NewEncryptionManager(EncryptionNone, "")
	if err := mgr.Initialize(); err != nil {
		t.Fatal(err)
	}

	got, err := mgr.DecryptString("sk-plain")
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-plain" {
		t.Errorf("DecryptString() = %q", got)
	}

	if _, err := mgr.DecryptString(encryptedPrefix + "AAAA"); err == nil {
		t.Error("expected error decrypting without a configured key")
	}
}

func TestInitializeEncryptedKey(t *testing.T) {
	keyPath := writeTestKey(t, "hunter2")

	encrypted, err := IsSSHKeyEncrypted(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if !encrypted {
		t.Fatal("expected key to be reported as encrypted")
	}

	mgr := NewEncryptionManager(EncryptionSSHKey, keyPath)
	if err := mgr.Initialize(); err == nil {
		t.Error("expected error without passphrase")
	}

	mgr.SetPassphrase("hunter2")
	if err := mgr.Initialize(); err != nil {
		t.Fatalf("Initialize() with passphrase error = %v", err)
	}
}

func TestEncryptRequiresInitialize(t *testing.T) {
	mgr := NewEncryptionManager(EncryptionSSHKey, "/nonexistent")
	if _, err := mgr.Encrypt([]byte("x")); err == nil {
		t.Error("expected error from uninitialized manager")
	}
}
