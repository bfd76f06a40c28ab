package gatts

import (
	"context"

	"github.com/srg/gattsd/pkg/command"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/native"
)

// Command verbs.
const (
	VerbEnable            = "enable"
	VerbAddService        = "add_service"
	VerbAddCharacteristic = "add_characteristic"
	VerbAddDescriptor     = "add_descriptor"
	VerbSetValue          = "set_value"
	VerbGetValue          = "get_value"
	VerbHVX               = "hvx"
	VerbSysAttrSet        = "sys_attr_set"
	VerbReplyRWAuthorize  = command.VerbReplyRWAuthorize
)

// DefaultGetValueLen is the buffer get_value reads into when the caller
// gives neither a length nor a buffer.
const DefaultGetValueLen = 512

func emptyResult() (convert.Object, error) {
	return convert.Object{}, nil
}

func (b *Bridge) commandTable() map[string]CommandFunc {
	return map[string]CommandFunc{
		VerbEnable:            b.enable,
		VerbAddService:        b.addService,
		VerbAddCharacteristic: b.addCharacteristic,
		VerbAddDescriptor:     b.addDescriptor,
		VerbSetValue:          b.setValue,
		VerbGetValue:          b.getValue,
		VerbHVX:               b.hvx,
		VerbSysAttrSet:        b.sysAttrSet,
		VerbReplyRWAuthorize:  b.replyRWAuthorize,
	}
}

// dispatch converts a call's inputs into command-owned memory and queues the
// command. Buffers are released if anything fails before queueing.
func (b *Bridge) dispatch(build func(leases *command.Leases) (*command.Command, error)) error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	leases := b.pool.NewLeases()
	cmd, err := build(leases)
	if err != nil {
		leases.Release()
		return err
	}
	return b.commands.Submit(cmd)
}

func (b *Bridge) enable(input convert.Object, cb Callback) error {
	return b.dispatch(func(*command.Leases) (*command.Command, error) {
		params, err := convert.EnableParamsConverter{}.ToNative(input)
		if err != nil {
			return nil, err
		}
		return command.New(VerbEnable, native.ConnHandleInvalid,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.Enable(ctx, params)
			},
			emptyResult, cb, nil), nil
	})
}

func (b *Bridge) addService(input convert.Object, cb Callback) error {
	return b.dispatch(func(*command.Leases) (*command.Command, error) {
		args := convert.ReadArgs(VerbAddService, input)
		typ, err := args.ServiceType("type")
		if err != nil {
			return nil, err
		}
		uuidIn, err := args.Object("uuid")
		if err != nil {
			return nil, err
		}
		uuid, err := convert.UUIDConverter{}.ToNative(uuidIn)
		if err != nil {
			return nil, args.Nest("uuid", err)
		}

		var handle uint16
		return command.New(VerbAddService, native.ConnHandleInvalid,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.ServiceAdd(ctx, typ, uuid, &handle)
			},
			func() (convert.Object, error) {
				return convert.Object{"handle": handle}, nil
			},
			cb, nil), nil
	})
}

func (b *Bridge) addCharacteristic(input convert.Object, cb Callback) error {
	return b.dispatch(func(leases *command.Leases) (*command.Command, error) {
		args := convert.ReadArgs(VerbAddCharacteristic, input)
		service, err := args.Uint16("service_handle")
		if err != nil {
			return nil, err
		}
		mdIn, err := args.Object("char_md")
		if err != nil {
			return nil, err
		}
		md, err := convert.CharMDConverter{Alloc: leases.Alloc}.ToNative(mdIn)
		if err != nil {
			return nil, args.Nest("char_md", err)
		}
		attrIn, err := args.Object("attr")
		if err != nil {
			return nil, err
		}
		attr, err := convert.AttrConverter{Alloc: leases.Alloc}.ToNative(attrIn)
		if err != nil {
			return nil, args.Nest("attr", err)
		}

		var handles native.CharHandles
		return command.New(VerbAddCharacteristic, native.ConnHandleInvalid,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.CharacteristicAdd(ctx, service, md, attr, &handles)
			},
			func() (convert.Object, error) {
				return convert.CharHandlesConverter{}.ToManaged(&handles)
			},
			cb, leases), nil
	})
}

func (b *Bridge) addDescriptor(input convert.Object, cb Callback) error {
	return b.dispatch(func(leases *command.Leases) (*command.Command, error) {
		args := convert.ReadArgs(VerbAddDescriptor, input)
		char, err := args.Uint16("char_handle")
		if err != nil {
			return nil, err
		}
		attrIn, err := args.Object("attr")
		if err != nil {
			return nil, err
		}
		attr, err := convert.AttrConverter{Alloc: leases.Alloc}.ToNative(attrIn)
		if err != nil {
			return nil, args.Nest("attr", err)
		}

		var handle uint16
		return command.New(VerbAddDescriptor, native.ConnHandleInvalid,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.DescriptorAdd(ctx, char, attr, &handle)
			},
			func() (convert.Object, error) {
				return convert.Object{"handle": handle}, nil
			},
			cb, leases), nil
	})
}

func (b *Bridge) setValue(input convert.Object, cb Callback) error {
	return b.dispatch(func(leases *command.Leases) (*command.Command, error) {
		args := convert.ReadArgs(VerbSetValue, input)
		conn, err := args.ConnHandleOr(native.ConnHandleInvalid)
		if err != nil {
			return nil, err
		}
		handle, err := args.Uint16("handle")
		if err != nil {
			return nil, err
		}
		valueIn, err := args.Object("value")
		if err != nil {
			return nil, err
		}
		value, err := convert.ValueConverter{Alloc: leases.Alloc}.ToNative(valueIn)
		if err != nil {
			return nil, args.Nest("value", err)
		}

		return command.New(VerbSetValue, conn,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.ValueSet(ctx, conn, handle, value)
			},
			func() (convert.Object, error) {
				return convert.ValueConverter{}.ToManaged(value)
			},
			cb, leases), nil
	})
}

func (b *Bridge) getValue(input convert.Object, cb Callback) error {
	return b.dispatch(func(leases *command.Leases) (*command.Command, error) {
		args := convert.ReadArgs(VerbGetValue, input)
		conn, err := args.ConnHandleOr(native.ConnHandleInvalid)
		if err != nil {
			return nil, err
		}
		handle, err := args.Uint16("handle")
		if err != nil {
			return nil, err
		}
		valueIn, err := args.ObjectOr("value")
		if err != nil {
			return nil, err
		}
		if valueIn["len"] == nil && valueIn["value"] == nil {
			withLen := make(convert.Object, len(valueIn)+1)
			for k, v := range valueIn {
				withLen[k] = v
			}
			withLen["len"] = DefaultGetValueLen
			valueIn = withLen
		}
		value, err := convert.ValueConverter{Alloc: leases.Alloc}.ToNative(valueIn)
		if err != nil {
			return nil, args.Nest("value", err)
		}

		return command.New(VerbGetValue, conn,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.ValueGet(ctx, conn, handle, value)
			},
			func() (convert.Object, error) {
				return convert.ValueConverter{}.ToManaged(value)
			},
			cb, leases), nil
	})
}

func (b *Bridge) hvx(input convert.Object, cb Callback) error {
	return b.dispatch(func(leases *command.Leases) (*command.Command, error) {
		args := convert.ReadArgs(VerbHVX, input)
		conn, err := args.Uint16("conn_handle")
		if err != nil {
			return nil, err
		}
		paramsIn, err := args.Object("params")
		if err != nil {
			return nil, err
		}
		params, err := convert.HVXConverter{Alloc: leases.Alloc}.ToNative(paramsIn)
		if err != nil {
			return nil, args.Nest("params", err)
		}

		return command.New(VerbHVX, conn,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.HVX(ctx, conn, params)
			},
			func() (convert.Object, error) {
				out := convert.Object{"len": nil}
				if params.Len != nil {
					out["len"] = *params.Len
				}
				return out, nil
			},
			cb, leases), nil
	})
}

func (b *Bridge) sysAttrSet(input convert.Object, cb Callback) error {
	return b.dispatch(func(leases *command.Leases) (*command.Command, error) {
		args := convert.ReadArgs(VerbSysAttrSet, input)
		conn, err := args.Uint16("conn_handle")
		if err != nil {
			return nil, err
		}
		attrIn, err := args.ObjectOr("sys_attr")
		if err != nil {
			return nil, err
		}
		attr, err := convert.SysAttrConverter{Alloc: leases.Alloc}.ToNative(attrIn)
		if err != nil {
			return nil, args.Nest("sys_attr", err)
		}

		return command.New(VerbSysAttrSet, conn,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.SysAttrSet(ctx, conn, attr)
			},
			emptyResult, cb, leases), nil
	})
}

func (b *Bridge) replyRWAuthorize(input convert.Object, cb Callback) error {
	return b.dispatch(func(leases *command.Leases) (*command.Command, error) {
		args := convert.ReadArgs(VerbReplyRWAuthorize, input)
		conn, err := args.Uint16("conn_handle")
		if err != nil {
			return nil, err
		}
		paramsIn, err := args.Object("params")
		if err != nil {
			return nil, err
		}
		params, err := convert.RWAuthorizeReplyConverter{Alloc: leases.Alloc}.ToNative(paramsIn)
		if err != nil {
			return nil, args.Nest("params", err)
		}
		// the request is claimed here and stays claimed even if the driver
		// later rejects the reply
		if err := b.auth.Consume(conn, params.Type); err != nil {
			return nil, err
		}

		return command.New(VerbReplyRWAuthorize, conn,
			func(ctx context.Context, drv native.Driver) native.Status {
				return drv.RWAuthorizeReply(ctx, conn, params)
			},
			emptyResult, cb, leases), nil
	})
}
