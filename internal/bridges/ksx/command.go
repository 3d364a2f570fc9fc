package ksx

import "fmt"

// Command is the command byte of a frame.
type Command byte

// Base command set shared by every device kind.
const (
	CmdStatusReq         Command = 0x01
	CmdStatusRsp         Command = 0x81
	CmdCharacteristicReq Command = 0x0F
	CmdCharacteristicRsp Command = 0x8F
	CmdSingleControlReq  Command = 0x41
	CmdSingleControlRsp  Command = 0xC1
	CmdGroupControlReq   Command = 0x42

	// cmdResponseBit turns a request code into its response code.
	cmdResponseBit Command = 0x80

	// cmdFirstExtension is the first device specific request code.
	cmdFirstExtension Command = 0x43
)

// CommandClass is the closed set of dispatch branches a context handles.
type CommandClass int

// Command classes.
const (
	ClassUnknown CommandClass = iota
	ClassStatusReq
	ClassStatusRsp
	ClassCharacteristicReq
	ClassCharacteristicRsp
	ClassSingleControlReq
	ClassSingleControlRsp
	ClassGroupControlReq
	ClassExtensionReq
	ClassExtensionRsp
)

// Response returns the response code paired with a request code.
func (c Command) Response() Command { return c | cmdResponseBit }

// IsResponse reports whether c has the response bit set.
func (c Command) IsResponse() bool { return c&cmdResponseBit != 0 }

// Class maps a command byte onto its dispatch branch.
func (c Command) Class() CommandClass {
	switch c {
	case CmdStatusReq:
		return ClassStatusReq
	case CmdStatusRsp:
		return ClassStatusRsp
	case CmdCharacteristicReq:
		return ClassCharacteristicReq
	case CmdCharacteristicRsp:
		return ClassCharacteristicRsp
	case CmdSingleControlReq:
		return ClassSingleControlReq
	case CmdSingleControlRsp:
		return ClassSingleControlRsp
	case CmdGroupControlReq:
		return ClassGroupControlReq
	}

	base := c &^ cmdResponseBit
	if base >= cmdFirstExtension && base < cmdResponseBit {
		if c.IsResponse() {
			return ClassExtensionRsp
		}
		return ClassExtensionReq
	}
	return ClassUnknown
}

// String returns a short name for logs.
func (c Command) String() string {
	switch c.Class() {
	case ClassStatusReq:
		return "status_req"
	case ClassStatusRsp:
		return "status_rsp"
	case ClassCharacteristicReq:
		return "charac_req"
	case ClassCharacteristicRsp:
		return "charac_rsp"
	case ClassSingleControlReq:
		return "single_ctrl_req"
	case ClassSingleControlRsp:
		return "single_ctrl_rsp"
	case ClassGroupControlReq:
		return "group_ctrl_req"
	case ClassExtensionReq:
		return fmt.Sprintf("ext_req_%02X", byte(c))
	case ClassExtensionRsp:
		return fmt.Sprintf("ext_rsp_%02X", byte(c))
	}
	return fmt.Sprintf("cmd_%02X", byte(c))
}
