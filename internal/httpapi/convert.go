package httpapi

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/types"
)

// Protobuf callers send and receive google.protobuf.Struct messages with the
// same field names as the JSON API.

func validateRequestFromProto(p *structpb.Struct) types.ValidateRequest {
	fields := p.GetFields()
	return types.ValidateRequest{
		Code:     fields["code"].GetStringValue(),
		Password: fields["password"].GetStringValue(),
	}
}

func validateResponseToProto(r types.ValidateResponse) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"valid": structpb.NewBoolValue(r.Valid),
	}
	if r.Error != "" {
		fields["error"] = structpb.NewStringValue(r.Error)
	}
	return &structpb.Struct{Fields: fields}
}
