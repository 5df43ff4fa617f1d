package models

// ServerInfo is the subset of the Jenkins /api/json root document used for health checks
type ServerInfo struct {
	Version         string `json:"-"` // From the X-Jenkins response header
	Mode            string `json:"mode"`
	NodeName        string `json:"nodeName"`
	NodeDescription string `json:"nodeDescription"`
	NumExecutors    int    `json:"numExecutors"`
	UseCrumbs       bool   `json:"useCrumbs"`
	UseSecurity     bool   `json:"useSecurity"`
}
