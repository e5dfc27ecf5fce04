package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/quizwire/internal/proto"
	"github.com/vovakirdan/quizwire/internal/store"
)

const storeTimeout = 5 * time.Second

// PrimaryNode is the hosting node. On top of server routing it keeps a ban
// table keyed by remote host.
type PrimaryNode struct {
	*Node

	banMu sync.Mutex
	bans  map[string]store.Ban
}

// NewPrimaryNode builds a hosting node, loading persisted bans when a
// BanStore is configured.
func NewPrimaryNode(ctx context.Context, opts Options) (*PrimaryNode, error) {
	p := &PrimaryNode{
		Node: newNode(serverRouting{}, opts),
		bans: make(map[string]store.Ban),
	}
	if p.opts.BanStore == nil {
		return p, nil
	}
	bans, err := p.opts.BanStore.LoadBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bans: %w", err)
	}
	for _, b := range bans {
		p.bans[b.Address] = b
	}
	p.log.Info().Int("bans", len(bans)).Msg("bans loaded")
	return p, nil
}

// AddConnection refuses banned hosts and otherwise attaches c.
func (p *PrimaryNode) AddConnection(c Connection) error {
	if host := hostOf(c.RemoteAddress()); host != "" {
		if ban, banned := p.activeBan(host); banned {
			p.refuse(c, ban)
			return coreError(ErrCodeBanned, fmt.Sprintf("address %s is banned", host), ErrBanned)
		}
	}
	return p.Node.AddConnection(c)
}

// activeBan returns the ban for host if it still applies. An expired ban is
// evicted on the way.
func (p *PrimaryNode) activeBan(host string) (store.Ban, bool) {
	p.banMu.Lock()
	ban, ok := p.bans[host]
	if !ok {
		p.banMu.Unlock()
		return store.Ban{}, false
	}
	if ban.Active(p.opts.Clock.Now()) {
		p.banMu.Unlock()
		return ban, true
	}
	delete(p.bans, host)
	p.banMu.Unlock()

	p.log.Info().Str("address", host).Str("ban_id", ban.BanID).Msg("ban expired")
	p.forgetBan(ban)
	return store.Ban{}, false
}

func (p *PrimaryNode) refuse(c Connection, ban store.Ban) {
	text := p.opts.Localizer.Text(TextBannedPermanent)
	if !ban.Permanent() {
		text = p.opts.Localizer.Text(TextBannedUntil, formatExpiry(ban.Expires))
	}
	p.log.Info().
		Str("conn_id", c.ID()).
		Str("address", ban.Address).
		Str("ban_id", ban.BanID).
		Msg("refusing banned connection")
	c.Send(proto.NewSystem(proto.Authority, proto.Everybody, text))
	p.opts.Clock.AfterFunc(p.opts.RefuseGrace, c.Close)
}

// Kick bans the host of the connection whose user is name and closes it.
// It returns the new ban id, or "" when no such connection exists or its
// address cannot be resolved; in the latter case the peer is disconnected
// without a ban.
func (p *PrimaryNode) Kick(name string, permanent bool) string {
	c := p.findConnection(func(c Connection) bool { return c.UserName() == name })
	if c == nil {
		return ""
	}

	var banID string
	if host := hostOf(c.RemoteAddress()); host != "" {
		ban := store.Ban{
			Address:  host,
			UserName: name,
			BanID:    uuid.NewString(),
		}
		if !permanent {
			ban.Expires = p.opts.Clock.Now().Add(p.opts.KickBanDuration)
		}
		p.banMu.Lock()
		p.bans[host] = ban
		p.banMu.Unlock()
		p.saveBan(ban)
		banID = ban.BanID
	}

	p.log.Info().Str("user", name).Str("ban_id", banID).Bool("permanent", permanent).Msg("kicked")
	p.RemoveConnection(c)
	c.Send(proto.NewSystem(proto.Authority, name, p.opts.Localizer.Text(TextKicked)))
	p.opts.Clock.AfterFunc(p.opts.RefuseGrace, c.Close)
	return banID
}

// Unban removes the ban with the given id. It reports whether one existed.
func (p *PrimaryNode) Unban(banID string) bool {
	p.banMu.Lock()
	var (
		ban   store.Ban
		found bool
	)
	for host, b := range p.bans {
		if b.BanID == banID {
			ban, found = b, true
			delete(p.bans, host)
			break
		}
	}
	p.banMu.Unlock()
	if !found {
		return false
	}
	p.log.Info().Str("address", ban.Address).Str("ban_id", banID).Msg("unbanned")
	p.forgetBan(ban)
	return true
}

// Bans returns the ban table ordered by address.
func (p *PrimaryNode) Bans() []store.Ban {
	p.banMu.Lock()
	out := make([]store.Ban, 0, len(p.bans))
	for _, b := range p.bans {
		out = append(out, b)
	}
	p.banMu.Unlock()
	slices.SortFunc(out, func(a, b store.Ban) int { return strings.Compare(a.Address, b.Address) })
	return out
}

func (p *PrimaryNode) forgetBan(ban store.Ban) {
	if p.opts.BanStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := p.opts.BanStore.DeleteBan(ctx, ban.Address); err != nil {
			p.log.Error().Err(err).Str("address", ban.Address).Msg("delete ban")
		}
	}
	p.emit(Event{Kind: EventUnbanned, RemoteAddress: ban.Address, UserName: ban.UserName, Ban: &ban})
}

func (p *PrimaryNode) saveBan(ban store.Ban) {
	if p.opts.BanStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := p.opts.BanStore.SaveBan(ctx, ban); err != nil {
		p.log.Error().Err(err).Str("address", ban.Address).Msg("save ban")
	}
}
