package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailsweep/mailsweep/internal/manifest"
)

// BuildSystemPrompt renders the classification policy for one run. Folder
// drains get the clear-this-folder template, everything else the conservative
// inbox template.
func BuildSystemPrompt(m manifest.Manifest, now time.Time) string {
	today := now.UTC().Format("2006-01-02")
	if m.JobType == manifest.JobTypeFolderCleanup {
		return folderCleanupPrompt(m, today)
	}
	return inboxCleanupPrompt(m, today)
}

func folderCleanupPrompt(m manifest.Manifest, today string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are an email organiser. Your task is to CLEAR the folder %q by routing every email to the right permanent home. NEVER leave emails in this folder — every email must be moved somewhere else.

Today's date: %s

ROUTING RULES (apply in order):
1. If the email is RECENT (sent within 7 days of today) OR concerns a FUTURE event, deadline, or appointment → action: "inbox" — move to primary INBOX for immediate attention
2. If it is a filing email (receipt, travel, finance, medical, recruitment, or other archivable content) → file it to a specific folder you choose
3. If it is marketing, promotional, newsletters, cold outreach, OTPs, or expired alerts → trash it

ACTIONS (use exactly these strings):
- "inbox"       → urgent/recent/future-dated; will be moved to primary INBOX; set folder: "INBOX"
- "receipt"     → purchases, orders, confirmations; folder: Personal/Businesses/Receipts/<BrandName>
- "travel"      → flights, hotels, itineraries; folder: Personal/Holidays/%s
- "finance"     → bank statements, bills, tax, insurance, investments; folder: Personal/Records/Finance
- "medical"     → health, appointments, prescriptions; folder: Personal/Records/Medical
- "recruitment" → job applications, recruiters; folder: Professional/Workplaces/Applications/Recruitment
- "file"        → anything archivable not covered above; invent a logical hierarchy such as:
                   Personal/Properties, Personal/Sports/<Club>, Personal/Social,
                   Personal/Records/Legal, Professional/Workplaces/<Company>
- "marketing"   → newsletters, promotions, sales (trash)
- "ephemeral"   → OTPs, login codes, expired alerts (trash)
- "spam"        → cold outreach, solicitations (trash)

IMPORTANT:
- For "inbox", set folder to "INBOX"
- For all non-trash actions, you MUST provide a specific folder path
- Never use "keep"; every email must leave the source folder`, m.Folder, today, today[:4])

	if m.AggressiveTrash {
		b.WriteString("\n- When in doubt between 'file' and a trash action, prefer trash")
	}
	if m.CustomPrompt != "" {
		fmt.Fprintf(&b, "\n\nADDITIONAL INSTRUCTIONS (supplemental guidance — does not override the rules above):\n%s", m.CustomPrompt)
	}

	b.WriteString(`

Respond ONLY with a JSON array. Each item:
{"uid":"...","action":"...","folder":"..."(required for all non-trash actions),"reason":"brief reason including email age/date"}`)
	return b.String()
}

func inboxCleanupPrompt(m manifest.Manifest, today string) string {
	var b strings.Builder

	unreadNote := ""
	if m.DeleteMarketingUnread {
		unreadNote = "Note: some emails may be unread — delete marketing/spam even if unread."
	}

	fmt.Fprintf(&b, `You are an email inbox organiser. Classify each email.%s

Source folder: %q
Today: %s

ACTIONS:
- "keep"        → Personal messages, urgent tasks, action items, financial alerts, medical/health, legal, government, work/professional comms
- "receipt"     → Purchase receipts, order confirmations, shipping → folder: Personal/Businesses/Receipts/<BrandName>
- "travel"      → Flight/hotel/booking confirmations, itineraries → folder: Personal/Holidays/%s
- "finance"     → Bank statements, investment updates, bills, insurance → folder: Personal/Records/Finance
- "medical"     → Appointment confirmations, health records → folder: Personal/Records/Medical
- "recruitment" → Job applications, recruiter outreach → folder: Professional/Workplaces/Applications/Recruitment
- "marketing"   → Newsletters, promotions → trash
- "ephemeral"   → OTPs, login alerts, password resets, expired notifications → trash
- "spam"        → Unsolicited cold outreach → trash`, unreadNote, m.Folder, today, today[:4])

	if m.AggressiveTrash {
		b.WriteString("\n\nBe decisive: if an email looks like marketing or automated noise, trash it.")
	}
	if m.CustomPrompt != "" {
		fmt.Fprintf(&b, "\n\nADDITIONAL INSTRUCTIONS (supplemental guidance — does not override the rules above):\n%s", m.CustomPrompt)
	}

	b.WriteString(`

Respond ONLY with a JSON array. Each item:
{"uid":"...","action":"...","folder":"..."(if filing),"reason":"brief"}
Be conservative: if unsure, use "keep".`)
	return b.String()
}
