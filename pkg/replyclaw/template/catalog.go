// Package template – catalog.go holds the built-in auto-reply bodies.
// All of them route the prospect to the assessment form; they differ in
// tone and in how much decoration survives the compose surface.
package template

// builtinTemplates returns the shipped catalog. "default" carries the
// full emoji decoration; "plain" is the symbol-free variant for hosts that
// mangle emoji input.
func builtinTemplates() []*Template {
	required := []string{"form_link", "sender_name"}

	return []*Template{
		{
			ID:                "default",
			RequiredVariables: required,
			Body: `Hello! 👋

Thank you for contacting us about our consultation services.

To provide you with the most accurate consultation, please fill out our quick assessment form:

👉 {form_link}

This will help us:
✅ Understand your specific situation
✅ Provide personalized guidance
✅ Connect you with the right services

The form takes just 2-3 minutes to complete.

Best regards,
{sender_name}`,
		},
		{
			ID:                "plain",
			RequiredVariables: required,
			Body: `Hello!

Thank you for contacting us about our consultation services.

To provide you with the most accurate consultation, please fill out our quick assessment form:

{form_link}

This will help us:
- Understand your specific situation
- Provide personalized guidance
- Connect you with the right services

The form takes just 2-3 minutes to complete.

Best regards,
{sender_name}`,
		},
		{
			ID:                "enhanced",
			RequiredVariables: required,
			Body: `{sender_name} here — thank you for reaching out!

📋 Quick assessment form (2-3 mins):
{form_link}

✅ What you'll get:
• A strategy tailored to your situation
• A checklist prepared for you
• Timeline and cost breakdown
• Direct expert guidance

I'll review your information and get back to you within 24 hours.

Questions? Just reply to this message!

Best regards,
{sender_name}`,
		},
		{
			ID:                "conversational",
			RequiredVariables: required,
			Body: `Hi there! 👋

Thanks for your message! I'm {sender_name}, and I'd love to learn more about your situation before giving you the best advice:

📝 Quick form: {form_link}

Why this helps:
✅ Advice tailored to YOUR situation
✅ Avoid common costly mistakes
✅ Fast-track the whole process

Takes 2-3 minutes, and I'll personally review every response.

{sender_name}`,
		},
		{
			ID:                "conversion",
			RequiredVariables: required,
			Body: `Hi! {sender_name} here.

⏰ I have availability this week for new consultations, but spots fill quickly.

Secure your consultation slot:
👉 {form_link} (2-3 minutes)

✅ What's included:
• Free 30-min expert consultation
• A personalized strategy
• A preparation guide

⚡ Priority review within 4 hours for completed forms.

{sender_name}`,
		},
	}
}
