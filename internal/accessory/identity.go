package accessory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// namespace scopes outlet identities. Changing it renames every accessory.
var namespace = uuid.MustParse("6f1c9a52-3b7e-5d40-9c1f-2a8e4b6d0f13")

// Identity is the stable name of an exposed outlet. It is a name-based
// UUID over the device MAC and outlet index, so it survives restarts and
// never depends on discovery order.
type Identity string

// IdentityFor returns the identity of outlet index on the device with the
// given MAC. The MAC is case-insensitive.
func IdentityFor(mac string, index int) Identity {
	name := "unifi-pdu-" + strings.ToLower(strings.TrimSpace(mac)) + "-" + strconv.Itoa(index)
	return Identity(uuid.NewSHA1(namespace, []byte(name)).String())
}

// ParseIdentity validates s and returns it in canonical form.
func ParseIdentity(s string) (Identity, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return Identity(u.String()), nil
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}
