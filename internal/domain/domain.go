package domain

// Session statuses.
const (
	SessionScheduled  = "scheduled"
	SessionInProgress = "in_progress"
	SessionConcluded  = "concluded"
	SessionCancelled  = "cancelled"
)

// Tramitação statuses.
const (
	TramitacaoInProgress = "in_progress"
	TramitacaoConcluded  = "concluded"
	TramitacaoCancelled  = "cancelled"
)

// Urgency regimes, ordered from slowest to fastest.
const (
	RegimeNormal         = "normal"
	RegimePriority       = "priority"
	RegimeUrgency        = "urgency"
	RegimeExtremeUrgency = "extreme_urgency"
)

// Agenda item statuses.
const (
	ItemPending      = "pending"
	ItemInDiscussion = "in_discussion"
	ItemInVoting     = "in_voting"
	ItemApproved     = "approved"
	ItemRejected     = "rejected"
	ItemPostponed    = "postponed"
	ItemWithdrawn    = "withdrawn"
)

// Agenda sections.
const (
	SectionExpediente      = "expediente"
	SectionOrderOfBusiness = "order_of_business"
	SectionCommunications  = "communications"
)

// Vote choices.
const (
	VoteYes     = "yes"
	VoteNo      = "no"
	VoteAbstain = "abstain"
	VoteAbsent  = "absent"
)

// Tally resolutions.
const (
	ResolutionApproved = "approved"
	ResolutionRejected = "rejected"
)

// Tier is the closed, totally ordered set of agenda priorities.
// Lower value means higher priority.
type Tier int

const (
	TierVetoDeadline Tier = iota + 1
	TierExtremeUrgency
	TierUrgency
	TierPriority
	TierSecondVote
	TierFirstVote
	TierChronological
)

func (t Tier) String() string {
	switch t {
	case TierVetoDeadline:
		return "veto_deadline"
	case TierExtremeUrgency:
		return "extreme_urgency"
	case TierUrgency:
		return "urgency"
	case TierPriority:
		return "priority"
	case TierSecondVote:
		return "second_vote"
	case TierFirstVote:
		return "first_vote"
	case TierChronological:
		return "chronological"
	}
	return "unknown"
}

// ForceAdmit reports whether an item at this tier bypasses the agenda
// time budget.
func (t Tier) ForceAdmit() bool {
	return t <= TierUrgency
}

type FlowDefinition struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Stage struct {
	ID                  string  `json:"id"`
	FlowID              string  `json:"flow_id"`
	Ord                 int     `json:"ord"`
	Name                string  `json:"name"`
	Unit                string  `json:"unit"`
	DeadlineDays        int     `json:"deadline_days"`
	UrgencyDeadlineDays *int    `json:"urgency_deadline_days,omitempty"`
	RequiresOpinion     bool    `json:"requires_opinion"`
	EnablesAgenda       bool    `json:"enables_agenda"`
	Terminal            bool    `json:"terminal"`
	ConditionKind       string  `json:"condition_kind,omitempty"`
	ConditionJSON       *string `json:"condition_json,omitempty"`
}

type Proposition struct {
	ID             string  `json:"id"`
	ChamberID      string  `json:"chamber_id"`
	Category       string  `json:"category"`
	Number         string  `json:"number"`
	Title          string  `json:"title"`
	Summary        string  `json:"summary,omitempty"`
	AttributesJSON *string `json:"attributes_json,omitempty"`
	Regime         string  `json:"regime" enum:"normal,priority,urgency,extreme_urgency"`
	VotingTurn     int     `json:"voting_turn"`
	PresentedAt    string  `json:"presented_at" format:"date-time"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Tramitacao struct {
	ID             string  `json:"id"`
	PropositionID  string  `json:"proposition_id"`
	FlowID         string  `json:"flow_id"`
	CurrentStageID *string `json:"current_stage_id,omitempty"`
	Status         string  `json:"status" enum:"in_progress,concluded,cancelled"`
	Regime         string  `json:"regime" enum:"normal,priority,urgency,extreme_urgency"`
	Deadline       *string `json:"deadline,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type StagePassage struct {
	ID           int64   `json:"id"`
	TramitacaoID string  `json:"tramitacao_id"`
	StageID      string  `json:"stage_id"`
	EnteredAt    string  `json:"entered_at" format:"date-time"`
	ExitedAt     *string `json:"exited_at,omitempty" format:"date-time"`
	Opinion      *string `json:"opinion,omitempty"`
}

type Session struct {
	ID          string `json:"id"`
	ChamberID   string `json:"chamber_id"`
	Number      int    `json:"number"`
	Type        string `json:"type" enum:"ordinary,extraordinary,solemn"`
	ScheduledAt string `json:"scheduled_at" format:"date-time"`
	Status      string `json:"status" enum:"scheduled,in_progress,concluded,cancelled"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type AgendaItem struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id"`
	PropositionID    string `json:"proposition_id"`
	Section          string `json:"section" enum:"expediente,order_of_business,communications"`
	Ord              int    `json:"ord"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Tier             Tier   `json:"tier"`
	Status           string `json:"status" enum:"pending,in_discussion,in_voting,approved,rejected,postponed,withdrawn"`
}

type SessionAgenda struct {
	SessionID    string       `json:"session_id"`
	Items        []AgendaItem `json:"items"`
	TotalMinutes int          `json:"total_minutes"`
	Warnings     []string     `json:"warnings"`
	Stats        AgendaStats  `json:"stats"`
	Published    bool         `json:"published"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
}

// AgendaStats are derived counts over agenda items, never stored.
type AgendaStats struct {
	ByTier    map[string]int `json:"by_tier" jsonschema:"type=object,additionalProperties=true"`
	BySection map[string]int `json:"by_section" jsonschema:"type=object,additionalProperties=true"`
}

func StatsFor(items []AgendaItem) AgendaStats {
	s := AgendaStats{
		ByTier:    map[string]int{},
		BySection: map[string]int{},
	}
	for _, it := range items {
		s.ByTier[it.Tier.String()]++
		s.BySection[it.Section]++
	}
	return s
}

type Legislator struct {
	ID        string `json:"id"`
	ChamberID string `json:"chamber_id"`
	Name      string `json:"name"`
	Party     string `json:"party,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PresenceRecord struct {
	SessionID     string  `json:"session_id"`
	LegislatorID  string  `json:"legislator_id"`
	Present       bool    `json:"present"`
	Justification *string `json:"justification,omitempty"`
	RecordedAt    string  `json:"recorded_at" format:"date-time"`
}

type Vote struct {
	PropositionID string `json:"proposition_id"`
	SessionID     string `json:"session_id"`
	LegislatorID  string `json:"legislator_id"`
	Turn          int    `json:"turn"`
	Choice        string `json:"choice" enum:"yes,no,abstain,absent"`
	RecordedAt    string `json:"recorded_at" format:"date-time"`
}

// VoteTally is always derived from stored votes, never kept incrementally.
type VoteTally struct {
	PropositionID string `json:"proposition_id"`
	SessionID     string `json:"session_id"`
	Turn          int    `json:"turn"`
	Yes           int    `json:"yes"`
	No            int    `json:"no"`
	Abstain       int    `json:"abstain"`
	Absent        int    `json:"absent"`
	ValidVotes    int    `json:"valid_votes"`
	QuorumKind    string `json:"quorum_kind"`
	Threshold     int    `json:"threshold"`
	Resolution    string `json:"resolution" enum:"approved,rejected"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ChamberID  string `json:"chamber_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
