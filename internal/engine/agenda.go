package engine

import (
	"context"
	"fmt"
	"strings"

	"opsdesk/internal/agenda"
	"opsdesk/internal/config"
	"opsdesk/internal/directory"
	"opsdesk/internal/domain"
	"opsdesk/internal/events"
	"opsdesk/internal/logging"
	"opsdesk/internal/records"
)

// AgendaRequest selects a profile and describes one meeting.
type AgendaRequest struct {
	Profile string
	// Recipients are email addresses or colleague names.
	Recipients  []string
	MeetingDate string
	MeetingType string
	PreviewOnly bool
}

type AgendaResult struct {
	RunID    string                   `json:"run_id,omitempty"`
	Document domain.AgendaDocument    `json:"document"`
	Outcomes []domain.DispatchOutcome `json:"outcomes,omitempty"`
}

func (e Engine) builder() (agenda.Builder, error) {
	st, err := e.store()
	if err != nil {
		return agenda.Builder{}, err
	}
	return agenda.Builder{Source: st, Template: e.Template, EscapeHTML: e.Config.Email.ShouldEscape()}, nil
}

func (e Engine) agendaSubject(p config.AgendaProfile, req AgendaRequest) (string, error) {
	date := e.now()
	if s := strings.TrimSpace(req.MeetingDate); s != "" {
		d, err := records.ParseDate(s)
		if err != nil {
			return "", fmt.Errorf("meeting date: %w", err)
		}
		date = d
	}
	return agenda.Subject(p.Subject, req.MeetingType, date), nil
}

// PreviewAgenda builds the agenda document without sending anything.
func (e Engine) PreviewAgenda(ctx context.Context, req AgendaRequest) (domain.AgendaDocument, error) {
	p, err := e.Config.Profile(req.Profile)
	if err != nil {
		return domain.AgendaDocument{}, err
	}
	b, err := e.builder()
	if err != nil {
		return domain.AgendaDocument{}, err
	}
	subject, err := e.agendaSubject(p, req)
	if err != nil {
		return domain.AgendaDocument{}, err
	}
	return b.Build(ctx, p, subject)
}

// SendAgenda builds the agenda and dispatches it to every recipient under
// the profile's data-source lease. PreviewOnly stops after the build. An
// empty recipient list still builds and journals the run with no sends.
func (e Engine) SendAgenda(ctx context.Context, req AgendaRequest) (AgendaResult, error) {
	if req.PreviewOnly {
		doc, err := e.PreviewAgenda(ctx, req)
		return AgendaResult{Document: doc}, err
	}
	p, err := e.Config.Profile(req.Profile)
	if err != nil {
		return AgendaResult{}, err
	}
	if e.Mailer == nil {
		return AgendaResult{}, fmt.Errorf("email %w: set DESK_RESEND_API_KEY", ErrNotConfigured)
	}
	b, err := e.builder()
	if err != nil {
		return AgendaResult{}, err
	}
	subject, err := e.agendaSubject(p, req)
	if err != nil {
		return AgendaResult{}, err
	}

	var res AgendaResult
	runID, err := e.journal(ctx, KindAgendaSend, req.Profile, "agenda:"+p.DataSourceID, func(ctx context.Context, runID string) (any, []pending, error) {
		recipients, err := e.resolveRecipients(ctx, req.Recipients)
		if err != nil {
			return nil, nil, err
		}
		doc, err := b.Build(ctx, p, subject)
		if err != nil {
			return nil, nil, err
		}
		res.Document = doc
		d := agenda.Dispatcher{
			Sender:  e.Mailer,
			From:    e.Config.Email.From,
			ReplyTo: e.Config.Email.ReplyTo,
			Mode:    e.Config.Email.OnFailure,
			Logger:  logging.FromContext(ctx, e.Logger),
		}
		outcomes, dispatchErr := d.Dispatch(ctx, doc, recipients)
		res.Outcomes = outcomes
		evts := make([]pending, 0, len(outcomes))
		sent := 0
		for _, o := range outcomes {
			if o.OK() {
				sent++
				evts = append(evts, pending{Type: events.EmailSent, EntityKind: "email", EntityID: o.Recipient,
					Payload: events.EventPayload{"message_id": o.MessageID, "subject": doc.Subject}})
				continue
			}
			evts = append(evts, pending{Type: events.EmailFailed, EntityKind: "email", EntityID: o.Recipient,
				Payload: events.EventPayload{"error": o.Error, "subject": doc.Subject}})
		}
		summary := map[string]any{
			"subject":    doc.Subject,
			"items":      len(doc.Items),
			"excluded":   doc.Excluded,
			"recipients": len(recipients),
			"sent":       sent,
			"failed":     len(outcomes) - sent,
		}
		return summary, evts, dispatchErr
	})
	res.RunID = runID
	return res, err
}

// resolveRecipients keeps addresses as given and looks up bare names in the
// colleagues directory.
func (e Engine) resolveRecipients(ctx context.Context, in []string) ([]string, error) {
	var names []string
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" && !strings.Contains(r, "@") {
			names = append(names, r)
		}
	}
	byName := map[string]string{}
	if len(names) > 0 {
		all, err := e.Colleagues(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve recipients: %w", err)
		}
		emails, unknown := directory.Emails(all, names)
		if len(unknown) > 0 {
			return nil, fmt.Errorf("unknown recipient(s): %s", strings.Join(unknown, ", "))
		}
		for i, n := range names {
			byName[n] = emails[i]
		}
	}
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		switch {
		case r == "":
		case strings.Contains(r, "@"):
			out = append(out, r)
		default:
			out = append(out, byName[r])
		}
	}
	return out, nil
}
