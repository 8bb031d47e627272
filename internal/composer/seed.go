package composer

import "github.com/sells-group/outreach-cli/internal/model"

// DefaultTemplates returns the starter template pools, one per stage.
// Seeding only happens into an empty templates table, so edits made in
// the database are never overwritten.
func DefaultTemplates() []model.Template {
	return []model.Template{
		{
			Name:  "Initial Outreach - General",
			Stage: model.TemplateStageInitial,
			Subjects: []string{
				"Quick question about {{company}}",
				"{{first_name}} - potential collaboration?",
				"Helping {{company}} scale faster",
				"Thought this might interest {{company}}",
				"{{company}} + web development partnership",
			},
			Bodies: []string{
				`Hi {{first_name}},

I came across {{company}} and was impressed by what you're building in {{industry}}.

I'm a full-stack developer specializing in scalable web applications: real-time platforms, e-commerce systems, and workflow automation.

Would you be open to a quick chat about any upcoming projects where I could help {{company}} move faster?

Best regards,
{{sender_name}}`,
				`Hi {{first_name}},

Quick intro - I'm {{sender_name}}, a full-stack developer working mainly with React, Node.js, and Postgres.

I noticed {{company}} is in the {{industry}} space, and I've shipped similar projects involving real-time features, payment integrations, and scalable backends.

Is {{company}} currently looking for development support, or weighing any new technical projects?

Happy to share relevant case studies if helpful.

Best,
{{sender_name}}`,
				`Hi {{first_name}},

I help {{industry}} companies build and scale their web applications with modern stacks.

Recent work includes a real-time messaging platform, an e-commerce system with payment gateway integration, and an HR tool with role-based access control.

Would love to learn about {{company}}'s current roadmap and see if there's a fit. Available for a quick call this week?

{{sender_name}}`,
			},
			Active: true,
		},
		{
			Name:  "Follow-up 1 - Soft Nudge",
			Stage: model.TemplateStageFollowup1,
			Subjects: []string{
				"Re: {{company}}",
				"Following up - {{first_name}}",
				"Still interested in connecting",
				"Quick check-in",
			},
			Bodies: []string{
				`Hi {{first_name}},

Just following up on my previous email about development support for {{company}}.

I understand you're likely busy - no pressure at all. If now isn't the right time, I'm happy to reconnect in a few months.

Would a quick 15-minute call work this week?

Best,
{{sender_name}}`,
				`{{first_name}},

Wanted to bump this up in your inbox in case it got buried.

Still happy to discuss how I might help {{company}} with any web development needs.

Let me know if you'd like to chat!

{{sender_name}}`,
				`Hi {{first_name}},

Following up on my note about development services for {{company}}.

Even if you don't have immediate needs, I'd love to stay connected for future opportunities.

Sound good?

{{sender_name}}`,
			},
			Active: true,
		},
		{
			Name:  "Follow-up 2 - Medium Intent",
			Stage: model.TemplateStageFollowup2,
			Subjects: []string{
				"One more try - {{first_name}}",
				"Still available if needed",
				"Last check-in from me",
			},
			Bodies: []string{
				`Hi {{first_name}},

I know inboxes get crazy, so I wanted to reach out one more time.

If {{company}} is exploring any web development projects this quarter or next, I'd love to be considered.

Otherwise, I'll stop bothering you!

Best,
{{sender_name}}`,
				`{{first_name}},

Last follow-up from me, promise.

If there's any way I can support {{company}} with full-stack development, I'm here and ready to help.

Otherwise, wishing you all the best with your projects.

{{sender_name}}`,
				`Hi {{first_name}},

Just wanted to reach out once more about potential development collaboration.

If the timing isn't right, totally understand. Feel free to reach back out whenever {{company}} needs technical support.

Cheers,
{{sender_name}}`,
			},
			Active: true,
		},
		{
			Name:  "Follow-up 3 - Light Close",
			Stage: model.TemplateStageFollowup3,
			Subjects: []string{
				"Final note - {{first_name}}",
				"Keeping {{company}} in mind",
				"Open door for future",
			},
			Bodies: []string{
				`Hi {{first_name}},

This will be my last email - don't want to clutter your inbox.

If {{company}} ever needs a full-stack developer down the road, feel free to reach out anytime.

Wishing you success with everything you're building.

Best regards,
{{sender_name}}`,
				`{{first_name}},

I'll leave you alone after this one!

Just wanted to leave the door open - if {{company}} ever has development needs in the future, I'm just an email away.

Best of luck with everything!

{{sender_name}}`,
				`Hi {{first_name}},

Final check-in from me. If the timing doesn't align now, no worries at all.

Feel free to keep my info for any future web development projects at {{company}}.

All the best,
{{sender_name}}`,
			},
			Active: true,
		},
	}
}
