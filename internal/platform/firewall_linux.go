//go:build linux

package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

// TableName is the nftables inet table holding session policies.
const TableName = "wgtunnel"

// Firewall drops traffic of the families a session blocks.
type Firewall interface {
	// Block installs the policy for session name. Packets carrying mark and
	// packets leaving through the session's own device or loopback pass.
	Block(name string, families []int, mark uint32) error
	Unblock(name string) error
}

// NFTFirewall implements Firewall with one output chain per session.
type NFTFirewall struct {
	mu    sync.Mutex
	conn  *nftables.Conn
	table *nftables.Table
}

// NewNFTFirewall opens a netlink connection to nftables.
func NewNFTFirewall() (*NFTFirewall, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables connection: %w", err)
	}
	return &NFTFirewall{
		conn:  conn,
		table: &nftables.Table{Name: TableName, Family: nftables.TableFamilyINet},
	}, nil
}

func chainName(session string) string {
	return "block-" + session
}

// Block implements Firewall.
func (f *NFTFirewall) Block(name string, families []int, mark uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.conn.AddTable(f.table)
	chain := f.conn.AddChain(SessionChain(f.table, name))
	for _, r := range BlockRules(f.table, chain, name, families, mark) {
		f.conn.AddRule(r)
	}
	if err := f.conn.Flush(); err != nil {
		return fmt.Errorf("failed to install policy for %s: %w", name, err)
	}
	return nil
}

// Unblock implements Firewall. Removing a policy that is not installed is
// not an error.
func (f *NFTFirewall) Unblock(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.conn.DelChain(&nftables.Chain{Name: chainName(name), Table: f.table})
	if err := f.conn.Flush(); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("failed to remove policy for %s: %w", name, err)
	}
	return nil
}

// SessionChain is the output hook chain holding one session's rules.
func SessionChain(table *nftables.Table, name string) *nftables.Chain {
	policy := nftables.ChainPolicyAccept
	return &nftables.Chain{
		Name:     chainName(name),
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	}
}

// BlockRules drops every packet of each family unless it leaves through
// the session device or loopback, or carries mark.
func BlockRules(table *nftables.Table, chain *nftables.Chain, name string, families []int, mark uint32) []*nftables.Rule {
	// Pad interface names to 16 bytes (IFNAMSIZ)
	tunBytes := make([]byte, 16)
	copy(tunBytes, name)
	loBytes := make([]byte, 16)
	copy(loBytes, "lo")

	var rules []*nftables.Rule
	for _, family := range families {
		var proto byte
		switch family {
		case unix.AF_INET:
			proto = unix.NFPROTO_IPV4
		case unix.AF_INET6:
			proto = unix.NFPROTO_IPV6
		default:
			continue
		}

		exprs := []expr.Any{
			&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: tunBytes},
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: loBytes},
		}
		if mark != 0 {
			exprs = append(exprs,
				&expr.Meta{Key: expr.MetaKeyMARK, Register: 1},
				&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: binaryutil.NativeEndian.PutUint32(mark)},
			)
		}
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})

		rules = append(rules, &nftables.Rule{
			Table:    table,
			Chain:    chain,
			Exprs:    exprs,
			UserData: []byte(fmt.Sprintf("wgtunnel: block %s on %s", familyName(family), name)),
		})
	}
	return rules
}
