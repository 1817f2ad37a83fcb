package submitter

import (
	"crypto/ecdsa"
	"os"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/gurufinglobal/attestor/attestor/config"
	"github.com/gurufinglobal/attestor/attestor/types"
)

// LoadKey returns the relayer signing key from a hex private key, an encrypted keystore
// file or a BIP-39 mnemonic, in that order of precedence.
func LoadKey(cfg config.KeyConfig) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			// The parse error may echo key material, so it is not wrapped.
			return nil, errorsmod.Wrap(types.ErrConfiguration, "key.private_key is not a valid secp256k1 key")
		}
		return key, nil
	}

	if cfg.KeystoreFile == "" {
		if cfg.Mnemonic != "" {
			return keyFromMnemonic(cfg.Mnemonic, cfg.Passphrase, cfg.HDPath)
		}
		return nil, errorsmod.Wrap(types.ErrConfiguration, "no signing key configured")
	}
	data, err := os.ReadFile(cfg.KeystoreFile)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "read keystore: %v", err)
	}
	key, err := keystore.DecryptKey(data, cfg.Passphrase)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "decrypt keystore: %v", err)
	}
	return key.PrivateKey, nil
}

// keyFromMnemonic derives the secp256k1 key at path. The passphrase doubles as the
// BIP-39 seed passphrase.
func keyFromMnemonic(mnemonic, passphrase, path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		path = config.DefaultHDPath
	}
	indexes, err := parseHDPath(path)
	if err != nil {
		return nil, err
	}

	words := strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(words, passphrase)
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "key.mnemonic is not a valid BIP-39 mnemonic")
	}

	node, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "derive master key: %v", err)
	}
	for _, idx := range indexes {
		if node, err = node.Derive(idx); err != nil {
			return nil, errorsmod.Wrapf(types.ErrConfiguration, "derive %s: %v", path, err)
		}
	}
	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "derive %s: %v", path, err)
	}
	key, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "derived key is not usable")
	}
	return key, nil
}

// parseHDPath accepts absolute BIP-32 paths only. Relative paths would be anchored under
// go-ethereum's default root.
func parseHDPath(path string) (accounts.DerivationPath, error) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "m/") {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "key.hd_path %q must start with m/", path)
	}
	dp, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "key.hd_path: %v", err)
	}
	return dp, nil
}
