// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

// ParseDSCP converte um nome de classe DSCP (RFC 2474/4594) para o code
// point numérico de 6 bits, derivando o valor do layout do campo:
//
//	CSn  = n << 3            (Class Selector, n em 0..7)
//	AFxy = x << 3 | y << 1   (Assured Forwarding, classe x em 1..4,
//	                          drop precedence y em 1..3)
//	EF   = 46                (Expedited Forwarding)
//
// Nomes são case-insensitive. Retorna 0 e nil para string vazia
// (marcação desabilitada).
func ParseDSCP(name string) (int, error) {
	class := strings.ToUpper(strings.TrimSpace(name))
	switch {
	case class == "":
		return 0, nil
	case class == "EF":
		return 46, nil
	case len(class) == 3 && strings.HasPrefix(class, "CS"):
		if n := class[2] - '0'; n <= 7 {
			return int(n) << 3, nil
		}
	case len(class) == 4 && strings.HasPrefix(class, "AF"):
		x, y := class[2]-'0', class[3]-'0'
		if x >= 1 && x <= 4 && y >= 1 && y <= 3 {
			return int(x)<<3 | int(y)<<1, nil
		}
	}
	return 0, fmt.Errorf("transport: invalid DSCP class %q (want EF, CS0..CS7 or AF11..AF43)", name)
}

// ApplyDSCP seta o campo TOS (DSCP) no socket UDP do engine.
// dscp é o valor do code point (0-63), que será shiftado para o byte TOS.
// Retorna nil se dscp == 0 (noop).
func ApplyDSCP(conn *net.UDPConn, dscp int) error {
	if dscp == 0 {
		return nil
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("getting raw conn for DSCP: %w", err)
	}

	// TOS byte = DSCP (6 bits) << 2 | ECN (2 bits, leave as 0)
	tosValue := dscp << 2

	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tosValue)
	}); err != nil {
		return fmt.Errorf("control fd for DSCP: %w", err)
	}
	if sysErr != nil {
		return fmt.Errorf("setsockopt IP_TOS=%d: %w", tosValue, sysErr)
	}

	return nil
}
