package connector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Hardened is the offset of hardened BIP32 indexes, see
// https://github.com/bitcoin/bips/blob/master/bip-0044.mediawiki#examples
const Hardened uint32 = 0x80000000

// BIP32Path is a derivation path in the numeric form the ledger SDK expects.
// It is JSON encoded as a plain number array.
type BIP32Path []uint32

// String renders the path like m/1852'/1815'/0'/0/0.
func (path BIP32Path) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, item := range path {
		b.WriteString("/")
		b.WriteString(strconv.FormatUint(uint64(item%Hardened), 10))
		if item >= Hardened {
			b.WriteString("'")
		}
	}
	return b.String()
}

func ToDerivationPathString(path []uint32) string {
	return BIP32Path(path).String()
}

// ParseBIP32Path is the inverse of String. The m/ prefix is required and
// whitespace around components is ignored.
func ParseBIP32Path(s string) (BIP32Path, error) {
	components := strings.Split(strings.TrimSpace(s), "/")
	if strings.TrimSpace(components[0]) != "m" {
		return nil, errors.New("derivation path must start with m/")
	}
	components = components[1:]
	if len(components) == 0 {
		return nil, errors.New("empty derivation path")
	}
	result := make(BIP32Path, 0, len(components))
	for _, component := range components {
		component = strings.TrimSpace(component)
		var offset uint32
		if strings.HasSuffix(component, "'") {
			offset = Hardened
			component = strings.TrimSpace(strings.TrimSuffix(component, "'"))
		}
		value, err := strconv.ParseUint(component, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid component: %s", component)
		}
		if uint32(value) >= Hardened {
			return nil, fmt.Errorf("component %d out of allowed range [0, %d]", value, Hardened-1)
		}
		result = append(result, uint32(value)+offset)
	}
	return result, nil
}
