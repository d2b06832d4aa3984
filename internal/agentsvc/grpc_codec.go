package agentsvc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const grpcServiceName = "agentsvc.v1.AgentService"

// Wire messages carried as google.protobuf.Struct payloads.

type createAgentRequest struct {
	Spec AgentSpec `json:"spec"`
}

type submitRunRequest struct {
	AgentID string `json:"agent_id"`
	Ticket  string `json:"ticket"`
}

type getRunRequest struct {
	Ref            RunRef `json:"ref"`
	AfterMessageID string `json:"after_message_id,omitempty"`
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeRequest, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeRequest, err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return fmt.Errorf("%w: empty payload", ErrDecodeResponse)
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}
	return nil
}
