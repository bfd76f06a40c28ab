package convert

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/srg/gattsd/pkg/native"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// enumTable maps native discriminant values to their symbolic names.
// Tables are built at init and never written afterwards.
type enumTable struct {
	name   string
	values *orderedmap.OrderedMap[int64, string]
	names  map[string]int64
	// open tables accept and emit unknown numbers without error
	open bool
}

type enumPair struct {
	value int64
	name  string
}

func newEnumTable(name string, open bool, pairs ...enumPair) *enumTable {
	t := &enumTable{
		name:   name,
		values: orderedmap.New[int64, string](),
		names:  make(map[string]int64, len(pairs)),
		open:   open,
	}
	for _, p := range pairs {
		t.values.Set(p.value, p.name)
		t.names[p.name] = p.value
	}
	return t
}

// managed renders v by name. Unknown values come back as the raw number;
// known reports whether the value was in the table.
func (t *enumTable) managed(v int64) (out any, known bool) {
	if name, ok := t.values.Get(v); ok {
		return name, true
	}
	return v, false
}

// parse accepts a symbolic name or a number.
func (t *enumTable) parse(v any) (int64, error) {
	if s, ok := v.(string); ok {
		if n, found := t.names[strings.ToUpper(strings.TrimSpace(s))]; found {
			return n, nil
		}
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("unknown %s %v", t.name, v)
	}
	if _, ok := t.values.Get(n); !ok && !t.open {
		return 0, fmt.Errorf("unknown %s %d", t.name, n)
	}
	return n, nil
}

// Names lists the symbolic names in declaration order.
func (t *enumTable) Names() []string {
	out := make([]string, 0, t.values.Len())
	for p := t.values.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

var (
	writeOps = newEnumTable("write op", false,
		enumPair{int64(native.OpInvalid), "BLE_GATTS_OP_INVALID"},
		enumPair{int64(native.OpWriteReq), "BLE_GATTS_OP_WRITE_REQ"},
		enumPair{int64(native.OpWriteCmd), "BLE_GATTS_OP_WRITE_CMD"},
		enumPair{int64(native.OpSignWriteCmd), "BLE_GATTS_OP_SIGN_WRITE_CMD"},
		enumPair{int64(native.OpPrepWriteReq), "BLE_GATTS_OP_PREP_WRITE_REQ"},
		enumPair{int64(native.OpExecWriteReqCancel), "BLE_GATTS_OP_EXEC_WRITE_REQ_CANCEL"},
		enumPair{int64(native.OpExecWriteReqNow), "BLE_GATTS_OP_EXEC_WRITE_REQ_NOW"},
	)

	authorizeTypes = newEnumTable("authorize type", false,
		enumPair{int64(native.AuthorizeTypeInvalid), "BLE_GATTS_AUTHORIZE_TYPE_INVALID"},
		enumPair{int64(native.AuthorizeTypeRead), "BLE_GATTS_AUTHORIZE_TYPE_READ"},
		enumPair{int64(native.AuthorizeTypeWrite), "BLE_GATTS_AUTHORIZE_TYPE_WRITE"},
	)

	hvxTypes = newEnumTable("hvx type", false,
		enumPair{int64(native.HVXInvalid), "BLE_GATT_HVX_INVALID"},
		enumPair{int64(native.HVXNotification), "BLE_GATT_HVX_NOTIFICATION"},
		enumPair{int64(native.HVXIndication), "BLE_GATT_HVX_INDICATION"},
	)

	vlocs = newEnumTable("value location", false,
		enumPair{int64(native.VLocInvalid), "BLE_GATTS_VLOC_INVALID"},
		enumPair{int64(native.VLocStack), "BLE_GATTS_VLOC_STACK"},
		enumPair{int64(native.VLocUser), "BLE_GATTS_VLOC_USER"},
	)

	// vendor UUID types are assigned at runtime, so any number is valid
	uuidTypes = newEnumTable("uuid type", true,
		enumPair{int64(native.UUIDTypeUnknown), "BLE_UUID_TYPE_UNKNOWN"},
		enumPair{int64(native.UUIDTypeBLE), "BLE_UUID_TYPE_BLE"},
		enumPair{int64(native.UUIDTypeVendorBegin), "BLE_UUID_TYPE_VENDOR_BEGIN"},
	)

	serviceTypes = newEnumTable("service type", false,
		enumPair{int64(native.ServiceTypePrimary), "BLE_GATTS_SRVC_TYPE_PRIMARY"},
		enumPair{int64(native.ServiceTypeSecondary), "BLE_GATTS_SRVC_TYPE_SECONDARY"},
	)

	timeoutSources = newEnumTable("timeout source", false,
		enumPair{int64(native.TimeoutSrcProtocol), "BLE_GATT_TIMEOUT_SRC_PROTOCOL"},
	)

	gattStatuses = newEnumTable("gatt status", true,
		enumPair{int64(native.GattStatusSuccess), "BLE_GATT_STATUS_SUCCESS"},
		enumPair{int64(native.GattStatusAttErrInvalidHandle), "BLE_GATT_STATUS_ATTERR_INVALID_HANDLE"},
		enumPair{int64(native.GattStatusAttErrReadNotPermitted), "BLE_GATT_STATUS_ATTERR_READ_NOT_PERMITTED"},
		enumPair{int64(native.GattStatusAttErrWriteNotPermitted), "BLE_GATT_STATUS_ATTERR_WRITE_NOT_PERMITTED"},
		enumPair{int64(native.GattStatusAttErrInsufAuthorization), "BLE_GATT_STATUS_ATTERR_INSUF_AUTHORIZATION"},
	)

	sysAttrFlags = newEnumTable("sys attr flags", true,
		enumPair{0, "BLE_GATTS_SYS_ATTR_FLAG_NONE"},
		enumPair{int64(native.SysAttrFlagSysSrvcs), "BLE_GATTS_SYS_ATTR_FLAG_SYS_SRVCS"},
		enumPair{int64(native.SysAttrFlagUsrSrvcs), "BLE_GATTS_SYS_ATTR_FLAG_USR_SRVCS"},
		enumPair{int64(native.SysAttrFlagSysSrvcs | native.SysAttrFlagUsrSrvcs), "BLE_GATTS_SYS_ATTR_FLAG_ALL"},
	)
)

// ParseServiceType resolves a service type given by name or number.
func ParseServiceType(v any) (uint8, error) {
	n, err := serviceTypes.parse(v)
	if err != nil {
		return 0, newError("service", "type", err.Error(), v)
	}
	return uint8(n), nil
}

// ParseSysAttrFlags resolves system attribute flags given by name or number.
func ParseSysAttrFlags(v any) (uint32, error) {
	n, err := sysAttrFlags.parse(v)
	if err != nil || n < 0 || n > 0xFFFFFFFF {
		return 0, newError("sys_attr", "flags", fmt.Sprintf("invalid flags %v", v), v)
	}
	return uint32(n), nil
}

// HVXTypeNames lists the accepted names for the hvx type field.
func HVXTypeNames() []string { return hvxTypes.Names() }
