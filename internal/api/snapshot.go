package api

import (
	"context"

	"github.com/finsim/game-engine/internal/events"
	"github.com/finsim/game-engine/internal/hub"
)

// Snapshot returns the state a WebSocket client receives on connect:
// the current round, its latest news and prices, the live leaderboard and
// auction mode. Failed reads are skipped; clients can poll to reconcile.
func (s *Server) Snapshot() hub.SnapshotFunc {
	return func(ctx context.Context) []events.Event {
		var out []events.Event

		if rd, err := s.rounds.Current(ctx); err == nil {
			out = append(out, events.Event{Type: events.TypeRound, Data: rd})
			out = append(out, events.Event{Type: events.TypePrices, Data: rd.PriceChanges})
			if n := len(rd.News); n > 0 {
				latest := rd.News[n-1]
				out = append(out, events.Event{Type: events.TypeNews, Data: events.NewsPayload{
					Title:       latest.Title,
					Content:     latest.Content,
					PublishedAt: latest.PublishedAt,
					RoundNumber: rd.RoundNumber,
				}})
			}
		}

		if board, err := s.rounds.Leaderboard(ctx); err == nil {
			out = append(out, events.Event{Type: events.TypeLeaderboard, Data: board})
		} else {
			s.log.Warn("ws snapshot without leaderboard", "err", err)
		}

		st := s.auction.State()
		out = append(out, events.Event{Type: events.TypeAuction, Data: events.AuctionPayload{
			Active:      st.Active,
			CurrentItem: st.CurrentItem,
		}})
		return out
	}
}
