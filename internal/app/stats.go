package app

import "github.com/openmeet/sfu/internal/domain"

// Stats is the read-only global counter snapshot served over HTTP.
type Stats struct {
	Workers    int `json:"workers"`
	Routers    int `json:"routers"`
	Rooms      int `json:"rooms"`
	Peers      int `json:"peers"`
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
}

type Participant struct {
	PeerID   domain.PeerID `json:"peerId"`
	Username string        `json:"username"`
}

type RoomStats struct {
	ParticipantCount int           `json:"participantCount"`
	Participants     []Participant `json:"participants"`
}

func (o *Orchestrator) Stats() Stats {
	rooms, peers, transports, producers, consumers := o.Sessions.Counts()
	return Stats{
		Workers:    o.Workers.Len(),
		Routers:    o.Routers.Len(),
		Rooms:      rooms,
		Peers:      peers,
		Transports: transports,
		Producers:  producers,
		Consumers:  consumers,
	}
}

func (o *Orchestrator) RoomStats(roomID domain.RoomID) RoomStats {
	ids := o.Sessions.PeersInRoom(roomID)
	stats := RoomStats{
		ParticipantCount: len(ids),
		Participants:     make([]Participant, 0, len(ids)),
	}
	for _, id := range ids {
		stats.Participants = append(stats.Participants, Participant{PeerID: id.PeerID, Username: id.Username})
	}
	return stats
}
