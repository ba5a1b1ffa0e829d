package common

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ReadSecret treats s as a path and returns the trimmed file contents. When s does
// not name a regular file it is returned unchanged, so flags accept either the
// secret itself or a file holding it.
func ReadSecret(s string) (string, error) {
	info, err := os.Stat(s)
	if err != nil || info.IsDir() {
		return s, nil
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return "", err
	}
	txt := strings.TrimSpace(string(data))
	if txt == "" {
		return "", fmt.Errorf("secret file %v is empty", s)
	}
	return txt, nil
}

// ParseKeystoreAddress extracts the account address from a keystore key file
func ParseKeystoreAddress(keyJSON []byte) (ethcommon.Address, error) {
	var key struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(keyJSON, &key); err != nil || !ethcommon.IsHexAddress(key.Address) {
		return ethcommon.Address{}, fmt.Errorf("error parsing address from keyfile")
	}
	return ethcommon.HexToAddress(key.Address), nil
}
