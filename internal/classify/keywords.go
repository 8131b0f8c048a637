package classify

import "github.com/onemail/sync-core/internal/domain"

type keywordGroup struct {
	category domain.Category
	keywords []string
}

// keywordPriority is spec.md §6's fixed fallback table, in the fixed
// priority order: Spam, OutOfOffice, MeetingBooked, NotInterested,
// Interested.
var keywordPriority = []keywordGroup{
	{
		category: domain.CategorySpam,
		keywords: []string{
			"unsubscribe", "promotional", "offer", "discount", "limited time", "act now",
		},
	},
	{
		category: domain.CategoryOutOfOffice,
		keywords: []string{
			"out of office", "vacation", "away", "automatic reply", "auto-reply",
		},
	},
	{
		category: domain.CategoryMeetingBooked,
		keywords: []string{
			"meeting", "call", "schedule", "appointment", "booked", "calendar",
		},
	},
	{
		category: domain.CategoryNotInterested,
		keywords: []string{
			"not interested", "decline", "reject", "no thank", "pass",
		},
	},
	{
		category: domain.CategoryInterested,
		keywords: []string{
			"interested", "yes", "sounds good", "let's do", "count me in",
		},
	},
}
