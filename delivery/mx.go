package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"

	"github.com/samber/lo"

	"listmailer/internal/email"
)

var mxLookup = net.DefaultResolver.LookupMX

// mxHosts lists the mail exchangers for the domain of rcpt, lowest
// preference first. Exchangers sharing a preference come back in random
// order.
func mxHosts(ctx context.Context, rcpt string) ([]string, error) {
	domain, err := email.Domain(rcpt)
	if err != nil {
		return nil, err
	}
	records, err := mxLookup(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("MX lookup failed for %s: %w", domain, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("MX lookup failed for %s: no MX records", domain)
	}

	rand.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })
	sort.SliceStable(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })

	return lo.Map(records, func(mx *net.MX, _ int) string {
		return strings.TrimSuffix(mx.Host, ".")
	}), nil
}
