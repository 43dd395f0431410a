package wallet

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

func init() {
	log.Init("error", false, "")
}

func testColdWallet() string {
	return types.Address{0x01, 0x02, 0x03}.String()
}

func writeTestSettings(t *testing.T, cold, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	if _, err := CreateSettings(path, cold, testSeed(t), []byte(token), fastParams()); err != nil {
		t.Fatalf("CreateSettings: %v", err)
	}
	return path
}

func TestLoadIdentity_Success(t *testing.T) {
	os.Unsetenv(TokenEnv)
	path := writeTestSettings(t, testColdWallet(), "hunter2")

	id, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if !id.Staking() {
		t.Fatal("identity should be staking")
	}
	if id.ColdWallet.String() != testColdWallet() {
		t.Errorf("cold wallet = %s, want %s", id.ColdWallet, testColdWallet())
	}
	want, _ := StakingKey(testSeed(t))
	if !bytes.Equal(id.Hot.PublicKey(), want.PublicKey()) {
		t.Error("hot key does not match m/44'/8888'/0'/0/0")
	}
}

func TestLoadIdentity_EnvTokenWinsAndIsUnset(t *testing.T) {
	path := writeTestSettings(t, testColdWallet(), "env-pass")

	// A stale token in the file must lose to the environment.
	s, err := ReadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Token = "stale-file-token"
	if err := WriteSettings(path, s); err != nil {
		t.Fatal(err)
	}

	t.Setenv(TokenEnv, "env-pass")
	id, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if !id.Staking() {
		t.Fatal("identity should be staking")
	}
	if _, ok := os.LookupEnv(TokenEnv); ok {
		t.Errorf("%s still set after LoadIdentity", TokenEnv)
	}
}

func TestLoadIdentity_WrongToken(t *testing.T) {
	path := writeTestSettings(t, testColdWallet(), "right")
	t.Setenv(TokenEnv, "wrong")

	_, err := LoadIdentity(path)
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("LoadIdentity = %v, want ErrDecrypt", err)
	}
	if _, ok := os.LookupEnv(TokenEnv); ok {
		t.Errorf("%s must be unset even when decryption fails", TokenEnv)
	}
}

func TestLoadIdentity_Missing(t *testing.T) {
	_, err := LoadIdentity(filepath.Join(t.TempDir(), "settings.json"))
	if !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("LoadIdentity = %v, want ErrSettingsNotFound", err)
	}
}

func TestLoadIdentity_NoColdWallet(t *testing.T) {
	os.Unsetenv(TokenEnv)
	path := writeTestSettings(t, "", "pass")

	id, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if id.Staking() {
		t.Error("identity without cold wallet must not be staking")
	}
	if id.ColdWallet != nil {
		t.Error("cold wallet should be nil")
	}
}

func TestLoadIdentity_CorruptRecords(t *testing.T) {
	os.Unsetenv(TokenEnv)
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"bad version", `{"version":9,"cold_wallet":"","hot_wallet":""}`},
		{"bad cold wallet", `{"version":1,"cold_wallet":"kgx1nope","hot_wallet":"","token":"x"}`},
		{"bad base64", `{"version":1,"cold_wallet":"` + testColdWallet() + `","hot_wallet":"***","token":"x"}`},
		{"no token", `{"version":1,"cold_wallet":"` + testColdWallet() + `","hot_wallet":"AAAA"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.json")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadIdentity(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCreateSettings_Validation(t *testing.T) {
	dir := t.TempDir()
	seed := testSeed(t)
	if _, err := CreateSettings(filepath.Join(dir, "a.json"), "", seed[:32], []byte("p"), fastParams()); err == nil {
		t.Error("short seed should be rejected")
	}
	if _, err := CreateSettings(filepath.Join(dir, "b.json"), "", seed, nil, fastParams()); err == nil {
		t.Error("empty passphrase should be rejected")
	}
	if _, err := CreateSettings(filepath.Join(dir, "c.json"), "garbage", seed, []byte("p"), fastParams()); err == nil {
		t.Error("bad cold wallet should be rejected")
	}
}

func TestWriteSettings_Mode(t *testing.T) {
	path := writeTestSettings(t, testColdWallet(), "p")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("settings mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestIdentity_Zero(t *testing.T) {
	key, _ := crypto.GenerateKey()
	cold := types.Address{9}
	id := &Identity{ColdWallet: &cold, Hot: key}
	id.Zero()
	if id.Staking() {
		t.Error("zeroed identity should not be staking")
	}
	if !bytes.Equal(key.Serialize(), make([]byte, 32)) {
		t.Error("hot key not wiped")
	}

	var nilID *Identity
	nilID.Zero()
	if nilID.Staking() {
		t.Error("nil identity should not be staking")
	}
}
