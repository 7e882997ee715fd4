// Package digest provides the hash providers used to derive identity tokens.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	NameSHA256 = "sha256"
	NameBLAKE3 = "blake3"
)

// Provider maps an arbitrary byte string to a fixed-length hex digest.
type Provider interface {
	Name() string
	Sum(data []byte) string
}

type sha256Provider struct{}

func (sha256Provider) Name() string { return NameSHA256 }

func (sha256Provider) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type blake3Provider struct{}

func (blake3Provider) Name() string { return NameBLAKE3 }

func (blake3Provider) Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256 is the default provider.
var SHA256 Provider = sha256Provider{}

// BLAKE3 produces 256-bit BLAKE3 digests.
var BLAKE3 Provider = blake3Provider{}

var providers = map[string]Provider{
	NameSHA256: SHA256,
	NameBLAKE3: BLAKE3,
}

// ByName returns the provider registered under name (case-insensitive).
func ByName(name string) (Provider, error) {
	p, ok := providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown hash provider %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the registered provider names in sorted order.
func Names() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
