package crypto_test

import (
	"encoding/json"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poornadinethyapa/predictionm/internal/crypto"
)

// Well-known development key (hardhat account #0).
const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := crypto.EncryptKey(devKey, "hunter2")
	require.NoError(t, err)

	var kf map[string]any
	require.NoError(t, json.Unmarshal(blob, &kf))
	assert.Equal(t, devAddress, kf["address"])
	assert.NotContains(t, string(blob), devKey[2:])

	got, err := crypto.DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKey[2:], got)

	_, err = crypto.DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKey_Rejects(t *testing.T) {
	_, err := crypto.EncryptKey(devKey, "")
	assert.Error(t, err)
	_, err = crypto.EncryptKey("0x1234", "pw")
	assert.Error(t, err)
	_, err = crypto.EncryptKey("zz", "pw")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	k, err := crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: devKey})
	require.NoError(t, err)
	assert.Equal(t, devKey[2:], k)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, crypto.WriteKeyFile(path, devKey, "pw"))
	k, err = crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, devKey[2:], k)

	_, err = crypto.LoadKey(crypto.KeyConfig{})
	assert.Error(t, err)
	assert.False(t, crypto.KeyConfig{}.Configured())
}

func TestTxSigner(t *testing.T) {
	s, err := crypto.NewTxSigner(devKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(devAddress), s.Address())

	chainID := big.NewInt(84532)
	to := common.HexToAddress("0x6dBd263900a5104bA83E2D0e155390acF01EDFf0")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
	signed, err := s.SignTx(tx, chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)

	_, err = crypto.NewTxSigner("not-hex")
	assert.Error(t, err)
}
