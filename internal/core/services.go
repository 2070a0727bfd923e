package core

import "time"

type Services struct {
	Incident     *IncidentService
	User         *UserService
	Team         *TeamService
	Policy       *PolicyService
	Event        *EventService
	Notification *NotificationService
	APIKey       *APIKeyService
}

func NewServices(db DB, policyCacheTTL time.Duration) *Services {
	return &Services{
		Incident:     NewIncidentService(db),
		User:         NewUserService(db),
		Team:         NewTeamService(db),
		Policy:       NewPolicyService(db, policyCacheTTL),
		Event:        NewEventService(db),
		Notification: NewNotificationService(db),
		APIKey:       NewAPIKeyService(db),
	}
}
