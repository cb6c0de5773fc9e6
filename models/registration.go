package models

type RegisterRequest struct {
	HardwareAddr      string  `json:"mac" binding:"required,hwaddr"`
	Hostname          string  `json:"hostname"`
	IP                string  `json:"ip"`
	CurrentView       string  `json:"currentView"`
	RegistrationToken string  `json:"registrationToken"`
	ExternalIP        string  `json:"-"`
	OwnerID           *string `json:"-"`
}

type HeartbeatReport struct {
	IP            string    `json:"ip"`
	CurrentView   string    `json:"currentView"`
	UptimeSeconds int64     `json:"uptime"`
	SystemInfo    Telemetry `json:"systemInfo"`
	DisplayInfo   Telemetry `json:"displayInfo"`
	CDPEnabled    *bool     `json:"cdpEnabled"`
}

type AssignmentUpdate struct {
	AssignedView       *string  `json:"assignedView"`
	DisplayScaleFactor *float64 `json:"displayScaleFactor" binding:"omitempty,gte=0.5,lte=3"`
}

type AssignmentResult struct {
	NeedsRestart bool    `json:"needsRestart"`
	LiveApply    bool    `json:"liveApply"`
	Device       *Device `json:"device"`
}

type AppendLogsRequest struct {
	Logs []DebugLogEntry `json:"logs"`
}

type AppendLogsResult struct {
	Accepted  bool `json:"accepted"`
	DebugMode bool `json:"debugMode"`
	Stored    int  `json:"stored"`
}
