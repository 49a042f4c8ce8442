package fanout

import (
	"fmt"
	"strconv"

	"LifeSync/internal/models"
	"LifeSync/pkg/i18n"
	"LifeSync/pkg/notification"
)

// Recipients 决定一次会话事件的收件人。位置更新只发给已分配的机构，
// 联系人不接收 Matching。
func Recipients(ev models.SessionEvent) []models.Recipient {
	var out []models.Recipient
	switch ev.Kind {
	case models.EventState:
		out = append(out, models.Recipient{Kind: models.RecipientCitizen, ID: ev.CitizenID})
		if ev.FacilityID != "" {
			out = append(out, models.Recipient{Kind: models.RecipientFacility, ID: ev.FacilityID})
		}
		if ev.State != models.StateMatching {
			for _, c := range ev.Contacts {
				out = append(out, models.Recipient{Kind: models.RecipientContact, ID: c})
			}
		}
	case models.EventLocation:
		if ev.FacilityID != "" && (ev.State == models.StateAssigned || ev.State == models.StateEnRoute) {
			out = append(out, models.Recipient{Kind: models.RecipientFacility, ID: ev.FacilityID})
		}
	}
	return out
}

// EventName 投递记录里的事件名，带毫秒时间戳以区分重复进入的状态
func EventName(ev models.SessionEvent) string {
	name := string(ev.State)
	if ev.Kind == models.EventLocation {
		name = "location"
	}
	return name + "@" + strconv.FormatInt(ev.Timestamp.UnixMilli(), 10)
}

// MessageID 事件对应的模板键
func MessageID(ev models.SessionEvent) string {
	if ev.Kind == models.EventLocation {
		return "sos.location"
	}
	if ev.State == models.StateAbandoned {
		reason := ev.Reason
		if reason == models.ReasonNone {
			reason = models.ReasonCancelled
		}
		return "sos.abandoned." + string(reason)
	}
	if ev.State == models.StateEnRoute && ev.Driver != "" {
		return "sos.en_route.driver"
	}
	return "sos." + string(ev.State)
}

// Renderer 把事件渲染成本地化消息
type Renderer struct {
	tr           *i18n.I18nSupport
	facilityName func(id string) string
}

// NewRenderer tr 为空时只输出模板键
func NewRenderer(tr *i18n.I18nSupport, facilityName func(id string) string) *Renderer {
	return &Renderer{tr: tr, facilityName: facilityName}
}

func (r *Renderer) Render(ev models.SessionEvent, to models.Recipient) notification.Message {
	facility := ev.FacilityID
	if facility != "" && r.facilityName != nil {
		if n := r.facilityName(facility); n != "" {
			facility = n
		}
	}
	data := map[string]interface{}{
		"Facility":   facility,
		"Coordinate": ev.Coordinate.String(),
		"Citizen":    ev.CitizenID,
		"Driver":     ev.Driver,
	}

	id := MessageID(ev)
	title, body := "sos.title", id
	if r.tr != nil {
		lang := ev.Locale
		if lang == "" {
			lang = r.tr.DefaultLang()
		}
		body = r.tr.T(lang, id, data)
		if to.Kind == models.RecipientContact {
			data["Status"] = body
			body = r.tr.T(lang, "sos.contact", data)
		}
		title = r.tr.T(lang, "sos.title", nil)
	}

	msg := notification.Message{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"sessionId": ev.SessionID,
			"kind":      string(ev.Kind),
			"state":     string(ev.State),
			"timestamp": strconv.FormatInt(ev.Timestamp.UnixMilli(), 10),
			"latitude":  fmt.Sprintf("%.6f", ev.Coordinate.Latitude),
			"longitude": fmt.Sprintf("%.6f", ev.Coordinate.Longitude),
		},
	}
	if ev.FacilityID != "" {
		msg.Data["facilityId"] = ev.FacilityID
	}
	if ev.Reason != models.ReasonNone {
		msg.Data["reason"] = string(ev.Reason)
	}
	if ev.Driver != "" {
		msg.Data["driverContact"] = ev.Driver
	}
	return msg
}
