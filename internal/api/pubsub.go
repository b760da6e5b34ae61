package api

import (
	"context"
	"strconv"

	"github.com/victornm/arena/internal/broadcast"
	"github.com/victornm/arena/internal/domain"
)

type (
	Standings struct {
		RoomID  string           `json:"room_id"`
		Entries []StandingsEntry `json:"entries"`
	}

	StandingsEntry struct {
		ParticipantID string `json:"participant_id"`
		Score         string `json:"score"`
	}
)

// PublishStandingsUpdated pushes the room's new standings to everyone in the room.
func (a *API) PublishStandingsUpdated(ctx context.Context, e domain.EventStandingsUpdated) error {
	st := e.Standings

	data := Standings{
		RoomID:  st.RoomID,
		Entries: make([]StandingsEntry, 0, len(st.Entries)),
	}

	for _, entry := range st.Entries {
		data.Entries = append(data.Entries, StandingsEntry{
			ParticipantID: entry.ParticipantID,
			Score:         strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	a.broadcast.Publish(ctx, st.RoomID, broadcast.Message{
		Type: broadcast.TypeStandings,
		Data: data,
	})

	return nil
}
