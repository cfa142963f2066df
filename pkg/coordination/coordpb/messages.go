// Package coordpb defines the wire messages exchanged with the
// Coordination Service (C2). There is no protoc-generated stub here: the
// service is reached over google.golang.org/grpc using a hand-registered
// JSON codec (see pkg/coordination's codec.go) rather than protobuf wire
// format, so these are plain JSON-tagged structs, not protoimpl types.
package coordpb

// VMMapping mirrors spec.md §3's VM Mapping Record.
type VMMapping struct {
	DB          string  `json:"db"`
	ServerUUID  string  `json:"server_uuid"`
	ServerName  string  `json:"server_name"`
	ControlIP   string  `json:"control_ip"`
	State       string  `json:"state"`
	CurrentTime float64 `json:"current_time"`
}

type GetInfoRequest struct{}

type GetInfoResponse struct {
	Version           string  `json:"version"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ExperimentRunning bool    `json:"experiment_running"`
}

type SetVMMappingRequest struct {
	Mapping VMMapping `json:"mapping"`
}

type VMMappingUUIDRequest struct {
	DB         string `json:"db"`
	ServerUUID string `json:"server_uuid"`
}

type SetVMStateByUUIDRequest struct {
	DB         string `json:"db"`
	ServerUUID string `json:"server_uuid"`
	State      string `json:"state"`
}

type SetVMTimeByUUIDRequest struct {
	DB          string  `json:"db"`
	ServerUUID  string  `json:"server_uuid"`
	CurrentTime float64 `json:"current_time"`
}

type ListVMMappingsRequest struct {
	DB string `json:"db"`
}

type CountVMMappingsNotReadyRequest struct {
	DB string `json:"db"`
}

type CountVMMappingsNotReadyResponse struct {
	Count int `json:"count"`
}

type DestroyVMMappingResponse struct{}

type DestroyAllVMMappingsRequest struct {
	DB string `json:"db"`
}

type DestroyAllVMMappingsResponse struct{}

type ExperimentLaunchTime struct {
	DB            string  `json:"db"`
	LaunchSeconds float64 `json:"launch_seconds"`
}

type GetExperimentLaunchTimeRequest struct {
	DB string `json:"db"`
}

type ExperimentStartTime struct {
	DB           string `json:"db"`
	StartSeconds int64  `json:"start_seconds"`
}

type GetExperimentStartTimeRequest struct {
	DB string `json:"db"`
}

type InitializeExperimentStartTimeRequest struct {
	DB string `json:"db"`
}

type InitializeExperimentStartTimeResponse struct{}
