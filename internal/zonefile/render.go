// Package zonefile renders the blocklist as an RPZ zone file and publishes
// it to a local or remote path.
package zonefile

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/rpzsync/internal/domainset"
)

// Zone defaults.
const (
	// DefaultTTL is the $TTL directive value.
	DefaultTTL = 60

	// DefaultPath is where the zone is written when no path is configured.
	DefaultPath = "../zones/rpz.db"

	// DefaultOrigin is used to parse the zone for validation. The file itself
	// carries no $ORIGIN; the resolver supplies it.
	DefaultOrigin = "rpz."

	// serialLayout renders a serial as YYMMDDHHMM.
	serialLayout = "0601021504"
)

// ErrNoSOA is returned when a zone carries no SOA record.
var ErrNoSOA = errors.New("zone has no SOA record")

// Serial returns the serial for a zone written at now. It is the
// YYMMDDHHMM wall-clock value, or previous+1 when that would not increase
// on previous.
func Serial(now time.Time, previous uint32) uint32 {
	n, _ := strconv.ParseUint(now.UTC().Format(serialLayout), 10, 32)
	computed := uint32(n)
	if previous >= computed {
		return previous + 1
	}
	return computed
}

// Sanitize returns the sorted domains that can be written as zone owner
// names, and the ones that cannot. A trailing dot is dropped so every
// owner stays relative to the zone origin.
func Sanitize(domains domainset.Set) (valid, skipped []string) {
	seen := make(map[string]struct{}, domains.Len())
	for _, d := range domains.Sorted() {
		name := strings.TrimSuffix(d, ".")
		if name == "" || name == "@" || strings.ContainsAny(name, " \t;()\"$") {
			skipped = append(skipped, d)
			continue
		}
		if _, ok := dns.IsDomainName(name); !ok {
			skipped = append(skipped, d)
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		valid = append(valid, name)
	}
	return valid, skipped
}

// Render produces the zone text: a $TTL directive, the SOA and NS records
// and one "<domain> CNAME ." block rule per domain, in the given order.
func Render(domains []string, serial, ttl uint32) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "$TTL %d\n", ttl)
	b.WriteString("@ IN SOA localhost. root.localhost. (\n")
	fmt.Fprintf(&b, "\t\t%d ; serial\n", serial)
	b.WriteString("\t\t3H ; refresh\n")
	b.WriteString("\t\t1H ; retry\n")
	b.WriteString("\t\t1W ; expiry\n")
	b.WriteString("\t\t1H ) ; minimum\n")
	b.WriteString("@ IN NS localhost.\n\n")

	for _, d := range domains {
		fmt.Fprintf(&b, "%-25s CNAME  .\n", d)
	}
	return b.Bytes()
}

// Info summarizes a parsed zone.
type Info struct {
	Serial  uint32
	Records int
}

// Validate parses data as a zone under origin and reports its SOA serial and
// the number of CNAME policy records.
func Validate(data []byte, origin string) (Info, error) {
	if origin == "" {
		origin = DefaultOrigin
	}
	origin = dns.Fqdn(origin)

	var info Info
	soa := false

	zp := dns.NewZoneParser(bytes.NewReader(data), origin, "")
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		switch r := rr.(type) {
		case *dns.SOA:
			if !soa {
				info.Serial = r.Serial
				soa = true
			}
		case *dns.CNAME:
			info.Records++
		}
	}
	if err := zp.Err(); err != nil {
		return Info{}, fmt.Errorf("parsing zone: %w", err)
	}
	if !soa {
		return Info{}, ErrNoSOA
	}
	return info, nil
}
