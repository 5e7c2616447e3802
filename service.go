package main

import (
	"context"
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"
)

// 可达性服务的connect接口，消息使用JSON编码
const (
	AccessibilityServiceName = "accessibility.v1.AccessibilityService"

	ComputeAccessibilityProcedure = "/" + AccessibilityServiceName + "/ComputeAccessibility"
	GetNetworkInfoProcedure       = "/" + AccessibilityServiceName + "/GetNetworkInfo"
)

type ComputeAccessibilityRequest struct {
	Origin string `json:"origin"`
	// HH:MM或HH:MM:SS，End为空时等于Start
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	StepSeconds int32  `json:"step_seconds,omitempty"`
	// 为空时使用服务端默认值
	MaxTransfers  *int   `json:"max_transfers,omitempty"`
	LandUseMode   string `json:"land_use_mode,omitempty"`
	DepartureMode string `json:"departure_mode,omitempty"`
	Itineraries   bool   `json:"itineraries,omitempty"`
	// 汇总统计的出行时间上限
	MaxTravelSeconds int32 `json:"max_travel_seconds,omitempty"`
	// 只返回这些站点，为空返回全部
	Destinations []string `json:"destinations,omitempty"`
}

type EntryMessage struct {
	Departure     string   `json:"departure"`
	Arrival       string   `json:"arrival"`
	TravelSeconds int32    `json:"travel_seconds"`
	Transfers     int32    `json:"transfers"`
	Distance      int32    `json:"distance"`
	LandUse       float64  `json:"land_use"`
	Legs          []string `json:"legs,omitempty"`
}

type DestinationMessage struct {
	StopID  string         `json:"stop_id"`
	Name    string         `json:"name,omitempty"`
	Entries []EntryMessage `json:"entries"`
}

type SummaryMessage struct {
	Reachable    int     `json:"reachable"`
	TotalStops   int     `json:"total_stops"`
	Coverage     float64 `json:"coverage"`
	LandUse      float64 `json:"land_use"`
	LandUseShare float64 `json:"land_use_share"`
}

type ComputeAccessibilityResponse struct {
	QueryID        string               `json:"query_id"`
	Origin         string               `json:"origin"`
	Departures     []string             `json:"departures"`
	Status         string               `json:"status"`
	BudgetExceeded bool                 `json:"budget_exceeded"`
	Summary        SummaryMessage       `json:"summary"`
	Destinations   []DestinationMessage `json:"destinations"`
}

type GetNetworkInfoRequest struct{}

type GetNetworkInfoResponse struct {
	Dataset   string `json:"dataset"`
	Version   int32  `json:"version"`
	Stops     int    `json:"stops"`
	Routes    int    `json:"routes"`
	Trips     int    `json:"trips"`
	Transfers int    `json:"transfers"`
	Queries   int64  `json:"queries"`
}

// jsonCodec 替换connect默认的protojson编码，消息为普通Go结构体
type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewAccessibilityServiceHandler 返回服务路径前缀与handler，挂载到mux上
func NewAccessibilityServiceHandler(s *AccessibilityServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(ComputeAccessibilityProcedure, connect.NewUnaryHandler(
		ComputeAccessibilityProcedure, s.ComputeAccessibility, opts...,
	))
	mux.Handle(GetNetworkInfoProcedure, connect.NewUnaryHandler(
		GetNetworkInfoProcedure, s.GetNetworkInfo, opts...,
	))
	return "/" + AccessibilityServiceName + "/", mux
}

// AccessibilityClient 服务的客户端
type AccessibilityClient struct {
	compute *connect.Client[ComputeAccessibilityRequest, ComputeAccessibilityResponse]
	info    *connect.Client[GetNetworkInfoRequest, GetNetworkInfoResponse]
}

func NewAccessibilityClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AccessibilityClient {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &AccessibilityClient{
		compute: connect.NewClient[ComputeAccessibilityRequest, ComputeAccessibilityResponse](
			httpClient, baseURL+ComputeAccessibilityProcedure, opts...,
		),
		info: connect.NewClient[GetNetworkInfoRequest, GetNetworkInfoResponse](
			httpClient, baseURL+GetNetworkInfoProcedure, opts...,
		),
	}
}

func (c *AccessibilityClient) ComputeAccessibility(ctx context.Context, req *ComputeAccessibilityRequest) (*ComputeAccessibilityResponse, error) {
	res, err := c.compute.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *AccessibilityClient) GetNetworkInfo(ctx context.Context) (*GetNetworkInfoResponse, error) {
	res, err := c.info.CallUnary(ctx, connect.NewRequest(&GetNetworkInfoRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
