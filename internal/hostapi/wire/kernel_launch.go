package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// KernelLaunchParams is KERNEL_LAUNCH's request payload (spec.md §6:
// "kernel_id, compute_pc, shire_mask, params blob"). Encoded with
// protowire's low-level wire-format helpers rather than a generated
// message type, since no .proto schema for this contract shipped in the
// retrieval pack; the field numbers below are this repo's own schema.
type KernelLaunchParams struct {
	KernelID   uint32
	ComputePC  uint64
	ShireMask  uint64
	ParamsBlob []byte
}

const (
	fieldKernelID   protowire.Number = 1
	fieldComputePC  protowire.Number = 2
	fieldShireMask  protowire.Number = 3
	fieldParamsBlob protowire.Number = 4
)

func (p KernelLaunchParams) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldKernelID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.KernelID))
	buf = protowire.AppendTag(buf, fieldComputePC, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, p.ComputePC)
	buf = protowire.AppendTag(buf, fieldShireMask, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, p.ShireMask)
	if len(p.ParamsBlob) > 0 {
		buf = protowire.AppendTag(buf, fieldParamsBlob, protowire.BytesType)
		buf = protowire.AppendBytes(buf, p.ParamsBlob)
	}
	return buf
}

func UnmarshalKernelLaunchParams(buf []byte) (KernelLaunchParams, error) {
	var p KernelLaunchParams
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return p, fmt.Errorf("wire: malformed kernel launch params tag")
		}
		buf = buf[n:]
		switch num {
		case fieldKernelID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return p, fmt.Errorf("wire: malformed kernel_id")
			}
			p.KernelID = uint32(v)
			buf = buf[n:]
		case fieldComputePC:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return p, fmt.Errorf("wire: malformed compute_pc")
			}
			p.ComputePC = v
			buf = buf[n:]
		case fieldShireMask:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return p, fmt.Errorf("wire: malformed shire_mask")
			}
			p.ShireMask = v
			buf = buf[n:]
		case fieldParamsBlob:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return p, fmt.Errorf("wire: malformed params_blob")
			}
			p.ParamsBlob = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return p, fmt.Errorf("wire: malformed field %d", num)
			}
			buf = buf[n:]
		}
	}
	return p, nil
}

// DeviceAPIVersion is DEVICE_API_VERSION's response payload (spec.md §6:
// "{major, minor, patch, hash, accept}").
type DeviceAPIVersion struct {
	Major  uint32
	Minor  uint32
	Patch  uint32
	Hash   []byte
	Accept bool
}

const (
	fieldMajor  protowire.Number = 1
	fieldMinor  protowire.Number = 2
	fieldPatch  protowire.Number = 3
	fieldHash   protowire.Number = 4
	fieldAccept protowire.Number = 5
)

func (v DeviceAPIVersion) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldMajor, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(v.Major))
	buf = protowire.AppendTag(buf, fieldMinor, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(v.Minor))
	buf = protowire.AppendTag(buf, fieldPatch, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(v.Patch))
	if len(v.Hash) > 0 {
		buf = protowire.AppendTag(buf, fieldHash, protowire.BytesType)
		buf = protowire.AppendBytes(buf, v.Hash)
	}
	buf = protowire.AppendTag(buf, fieldAccept, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeBool(v.Accept))
	return buf
}

func UnmarshalDeviceAPIVersion(buf []byte) (DeviceAPIVersion, error) {
	var v DeviceAPIVersion
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return v, fmt.Errorf("wire: malformed device api version tag")
		}
		buf = buf[n:]
		switch num {
		case fieldMajor:
			x, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return v, fmt.Errorf("wire: malformed major")
			}
			v.Major = uint32(x)
			buf = buf[n:]
		case fieldMinor:
			x, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return v, fmt.Errorf("wire: malformed minor")
			}
			v.Minor = uint32(x)
			buf = buf[n:]
		case fieldPatch:
			x, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return v, fmt.Errorf("wire: malformed patch")
			}
			v.Patch = uint32(x)
			buf = buf[n:]
		case fieldHash:
			x, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return v, fmt.Errorf("wire: malformed hash")
			}
			v.Hash = append([]byte(nil), x...)
			buf = buf[n:]
		case fieldAccept:
			x, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return v, fmt.Errorf("wire: malformed accept")
			}
			v.Accept = protowire.DecodeBool(x)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return v, fmt.Errorf("wire: malformed field %d", num)
			}
			buf = buf[n:]
		}
	}
	return v, nil
}
