package handler

import "net/http"

// Command documents one operation of the API.
type Command struct {
	Name        string `json:"name"`
	Route       string `json:"route"`
	Description string `json:"description"`
}

// HelpResponse is the command catalogue.
type HelpResponse struct {
	Description string    `json:"description"`
	Commands    []Command `json:"commands"`
}

const partiesRoute = "/guilds/{guildID}/channels/{channelID}/parties"

var help = HelpResponse{
	Description: "This service helps schedule listening parties and alert users when they're starting.",
	Commands: []Command{
		{
			Name:  "schedule",
			Route: "POST " + partiesRoute,
			Description: "Schedule a party. Body: topic (at least 6 characters), date_time (YYYY-MM-DD HH:mm), " +
				"timezone (see https://en.wikipedia.org/wiki/List_of_tz_database_time_zones), duration in hours (0.5 to 3), owner.",
		},
		{
			Name:        "join",
			Route:       "POST " + partiesRoute + "/{id}/join",
			Description: "Join a party. You will be pinged 10 minutes before it begins. Body: user_id, user_tag.",
		},
		{
			Name:        "upcoming",
			Route:       "GET " + partiesRoute + "?tz={timezone}",
			Description: "List parties starting in the next 72 hours. tz is optional and only changes how times are displayed.",
		},
		{
			Name:        "calendar",
			Route:       "GET " + partiesRoute + "/upcoming.ics",
			Description: "The upcoming parties as an iCalendar feed.",
		},
		{
			Name:  "update",
			Route: "PUT " + partiesRoute + "/{id}",
			Description: "Move a party. Provide all of date_time, timezone and duration. " +
				"You must be the organizer (or a moderator) and the party must not have started.",
		},
		{
			Name:        "cancel",
			Route:       "POST " + partiesRoute + "/{id}/cancel",
			Description: "Cancel a party. You must be the organizer (or a moderator) and the party must not have started.",
		},
		{
			Name:        "help",
			Route:       "GET /help",
			Description: "Shows this message.",
		},
	},
}

// Help handles GET /help
func Help(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, help)
}
