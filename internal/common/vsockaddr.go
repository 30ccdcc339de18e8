// Package common holds small value types shared across the host and enclave
// sides of the trust pipeline: vsock address parsing and secret redaction.
package common

import (
	"fmt"
	"strconv"
	"strings"
)

// VMADDR_CID_ANY matches the hypervisor-reserved "any" vsock context id.
const VMADDR_CID_ANY uint32 = 0xFFFFFFFF

// VsockAddr is a (CID, port) pair identifying one side of a vsock channel.
type VsockAddr struct {
	CID  uint32
	Port uint32
}

func (a VsockAddr) String() string {
	return fmt.Sprintf("%d:%d", a.CID, a.Port)
}

// ParseVsockAddr parses "CID:PORT", where CID may be the literal "ANY".
func ParseVsockAddr(s string) (VsockAddr, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return VsockAddr{}, fmt.Errorf("invalid vsock address %q: want CID:PORT", s)
	}

	port, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return VsockAddr{}, fmt.Errorf("invalid vsock port in %q: %w", s, err)
	}

	if parts[0] == "ANY" {
		return VsockAddr{CID: VMADDR_CID_ANY, Port: uint32(port)}, nil
	}

	cid, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return VsockAddr{}, fmt.Errorf("invalid vsock cid in %q: %w", s, err)
	}
	return VsockAddr{CID: uint32(cid), Port: uint32(port)}, nil
}
