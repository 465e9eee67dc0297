package activecampaign

import "strconv"

// ContactStatus is a contact's subscription status. It is sent as the
// "status" query parameter when filtering contacts.
type ContactStatus int

const (
	ContactStatusAny          ContactStatus = -1
	ContactStatusUnconfirmed  ContactStatus = 0
	ContactStatusActive       ContactStatus = 1
	ContactStatusUnsubscribed ContactStatus = 2
	ContactStatusBounced      ContactStatus = 3
)

var contactStatusNames = map[ContactStatus]string{
	ContactStatusAny:          "any",
	ContactStatusUnconfirmed:  "unconfirmed",
	ContactStatusActive:       "active",
	ContactStatusUnsubscribed: "unsubscribed",
	ContactStatusBounced:      "bounced",
}

func (s ContactStatus) String() string {
	if name, ok := contactStatusNames[s]; ok {
		return name
	}
	return "ContactStatus(" + strconv.Itoa(int(s)) + ")"
}

// ParseContactStatus resolves a status by name ("active") or number ("1").
func ParseContactStatus(s string) (ContactStatus, bool) {
	for status, name := range contactStatusNames {
		if name == s {
			return status, true
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := contactStatusNames[ContactStatus(n)]; ok {
			return ContactStatus(n), true
		}
	}
	return 0, false
}

// UnmarshalJSON accepts numeric and string-encoded statuses.
func (s *ContactStatus) UnmarshalJSON(data []byte) error {
	var n FlexInt
	if err := n.UnmarshalJSON(data); err != nil {
		return err
	}
	*s = ContactStatus(n)
	return nil
}

// CampaignStatus is the delivery state of a campaign.
type CampaignStatus int

const (
	CampaignStatusDraft     CampaignStatus = 0
	CampaignStatusScheduled CampaignStatus = 1
	CampaignStatusSending   CampaignStatus = 2
	CampaignStatusPaused    CampaignStatus = 3
	CampaignStatusStopped   CampaignStatus = 4
	CampaignStatusCompleted CampaignStatus = 5
)

func (s CampaignStatus) String() string {
	switch s {
	case CampaignStatusDraft:
		return "draft"
	case CampaignStatusScheduled:
		return "scheduled"
	case CampaignStatusSending:
		return "sending"
	case CampaignStatusPaused:
		return "paused"
	case CampaignStatusStopped:
		return "stopped"
	case CampaignStatusCompleted:
		return "completed"
	default:
		return "CampaignStatus(" + strconv.Itoa(int(s)) + ")"
	}
}

// UnmarshalJSON accepts numeric and string-encoded statuses.
func (s *CampaignStatus) UnmarshalJSON(data []byte) error {
	var n FlexInt
	if err := n.UnmarshalJSON(data); err != nil {
		return err
	}
	*s = CampaignStatus(n)
	return nil
}
