// Copyright 2024 The Timsiem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package playbooks

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// enrichFunc normalizes an indicator value and returns the extra fields sent to the SIEM.
// An error means the value is not valid for the indicator type and the indicator is skipped.
type enrichFunc func(value string) (normalized string, fields map[string]string, err error)

var hashTypesByLength = map[int]string{
	32:  "md5",
	40:  "sha1",
	64:  "sha256",
	128: "sha512",
}

func enrichHash(value string) (string, map[string]string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	hashType, ok := hashTypesByLength[len(v)]
	if !ok {
		return "", nil, fmt.Errorf("hash value has unsupported length=%v", len(v))
	}
	if _, err := hex.DecodeString(v); err != nil {
		return "", nil, fmt.Errorf("hash value is not hex: %w", err)
	}
	return v, map[string]string{"hashType": hashType}, nil
}

func enrichIP(value string) (string, map[string]string, error) {
	v := strings.TrimSpace(value)
	if addr, err := netip.ParseAddr(v); err == nil {
		return addr.String(), map[string]string{"ipVersion": ipVersion(addr)}, nil
	}
	prefix, err := netip.ParsePrefix(v)
	if err != nil {
		return "", nil, fmt.Errorf("value is neither an address nor a prefix: %w", err)
	}
	prefix = prefix.Masked()
	return prefix.String(), map[string]string{
		"ipVersion": ipVersion(prefix.Addr()),
		"prefixLen": strconv.Itoa(prefix.Bits()),
	}, nil
}

func ipVersion(addr netip.Addr) string {
	if addr.Is4() || addr.Is4In6() {
		return "4"
	}
	return "6"
}

func enrichURL(value string) (string, map[string]string, error) {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("url must be absolute but got scheme=%q, host=%q", u.Scheme, u.Host)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String(), map[string]string{
		"scheme": u.Scheme,
		"host":   u.Hostname(),
	}, nil
}

func enrichDomain(value string) (string, map[string]string, error) {
	v := strings.TrimSuffix(strings.TrimSpace(value), ".")
	ascii, err := idna.Lookup.ToASCII(v)
	if err != nil {
		return "", nil, fmt.Errorf("invalid domain: %w", err)
	}
	if ascii == "" || !strings.Contains(ascii, ".") {
		return "", nil, fmt.Errorf("domain %q has no parent domain", ascii)
	}
	fields := map[string]string{}
	if registered, err := publicsuffix.EffectiveTLDPlusOne(ascii); err == nil {
		fields["registeredDomain"] = registered
	}
	return ascii, fields, nil
}
