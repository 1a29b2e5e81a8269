package builtin

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
)

type hashTool struct{}

func (t *hashTool) ID() tools.ID           { return "security.hash" }
func (t *hashTool) Capabilities() []string { return []string{"hash"} }

func (t *hashTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "hash" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "security.hash.%s", capability)
	}
	input, err := args.String("input")
	if err != nil {
		return nil, err
	}
	algorithm := args.StringOr("algorithm", "sha256")

	var digest []byte
	switch algorithm {
	case "sha256":
		sum := sha256.Sum256([]byte(input))
		digest = sum[:]
	case "sha1":
		sum := sha1.Sum([]byte(input))
		digest = sum[:]
	case "md5":
		sum := md5.Sum([]byte(input))
		digest = sum[:]
	default:
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "unsupported algorithm: %s", algorithm)
	}
	return tools.Result{"digest": hex.EncodeToString(digest), "algorithm": algorithm}, nil
}

type base64Tool struct{}

func (t *base64Tool) ID() tools.ID           { return "security.base64" }
func (t *base64Tool) Capabilities() []string { return []string{"encode", "decode"} }

func (t *base64Tool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	input, err := args.String("input")
	if err != nil {
		return nil, err
	}
	switch capability {
	case "encode":
		return tools.Result{"result": base64.StdEncoding.EncodeToString([]byte(input))}, nil
	case "decode":
		decoded, err := base64.StdEncoding.DecodeString(input)
		if err != nil {
			return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid base64: %s", err)
		}
		return tools.Result{"result": string(decoded)}, nil
	default:
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "security.base64.%s", capability)
	}
}

func init() {
	tools.Register("security.hash", "compute sha256/sha1/md5 digests", func(config map[string]any) tools.Tool {
		return &hashTool{}
	})
	tools.Register("security.base64", "base64 encode or decode", func(config map[string]any) tools.Tool {
		return &base64Tool{}
	})
}
