package model

// ScheduleRequest is the payload for scheduling a new party.
type ScheduleRequest struct {
	Topic    string `json:"topic" validate:"required"`
	DateTime string `json:"date_time" validate:"required"`
	Timezone string `json:"timezone" validate:"required"`
	Duration string `json:"duration" validate:"required"`
	Owner    string `json:"owner" validate:"required"`
}

// JoinRequest is the payload for joining a party.
type JoinRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	UserTag string `json:"user_tag" validate:"required"`
}

// UpdateRequest is the payload for moving a party to a new time slot.
type UpdateRequest struct {
	Requester Requester `json:"requester"`
	DateTime  string    `json:"date_time" validate:"required"`
	Timezone  string    `json:"timezone" validate:"required"`
	Duration  string    `json:"duration" validate:"required"`
}

// CancelRequest is the payload for canceling a party.
type CancelRequest struct {
	Requester Requester `json:"requester"`
}
