package domain

const (
	EventNameRoundStarted     = "round.started"
	EventNameRoundResolved    = "round.resolved"
	EventNameStandingsUpdated = "standings.updated"
)

type EventRoundStarted struct {
	Round Round
}

func (EventRoundStarted) Name() string { return EventNameRoundStarted }

type EventRoundResolved struct {
	Result RoundResult
}

func (EventRoundResolved) Name() string { return EventNameRoundResolved }

type EventStandingsUpdated struct {
	Standings Standings
}

func (EventStandingsUpdated) Name() string { return EventNameStandingsUpdated }
