package slipverify

// Reason classifies why a slip was rejected. The value is stored as the payment failure reason.
type Reason string

const (
	ReasonDuplicate        Reason = "duplicate_slip"
	ReasonUnreadable       Reason = "unreadable_slip"
	ReasonNotSettled       Reason = "transfer_not_settled"
	ReasonReceiverMismatch Reason = "receiver_mismatch"
	ReasonAmountMismatch   Reason = "amount_mismatch"
	ReasonRejected         Reason = "slip_rejected"
	ReasonUnavailable      Reason = "verifier_unavailable"
)

func reasonForCode(code int) Reason {
	switch code {
	case 1012:
		return ReasonDuplicate
	case 1005, 1006, 1007, 1008, 1011:
		return ReasonUnreadable
	case 1009, 1010:
		return ReasonNotSettled
	case 1014:
		return ReasonReceiverMismatch
	case 1013:
		return ReasonAmountMismatch
	default:
		return ReasonRejected
	}
}

var messages = map[Reason][2]string{
	ReasonDuplicate: {
		"สลิปนี้ถูกใช้งานไปแล้ว กรุณาใช้สลิปใหม่",
		"This slip has already been used. Please upload a new slip.",
	},
	ReasonUnreadable: {
		"ไม่สามารถอ่านสลิปได้ กรุณาอัปโหลดรูปสลิปที่ชัดเจน",
		"The slip could not be read. Please upload a clear image of the slip.",
	},
	ReasonNotSettled: {
		"ธนาคารยังไม่ยืนยันรายการโอนนี้ กรุณาลองใหม่ในอีกสักครู่",
		"The bank has not confirmed this transfer yet. Please try again shortly.",
	},
	ReasonReceiverMismatch: {
		"บัญชีผู้รับเงินไม่ถูกต้อง กรุณาโอนไปยังบัญชีที่ระบุ",
		"The receiving account does not match. Please transfer to the account shown.",
	},
	ReasonAmountMismatch: {
		"ยอดเงินในสลิปไม่ตรงกับยอดที่ต้องชำระ",
		"The transferred amount does not match the amount due.",
	},
	ReasonRejected: {
		"ไม่สามารถยืนยันสลิปได้ กรุณาติดต่อผู้ดูแลระบบ",
		"The slip could not be verified. Please contact support.",
	},
	ReasonUnavailable: {
		"ระบบตรวจสอบสลิปไม่พร้อมใช้งาน กรุณาลองใหม่อีกครั้ง",
		"Slip verification is unavailable. Please try again.",
	},
}

// Message returns the user-facing text for r in locale ("th" default, "en").
func (r Reason) Message(locale string) string {
	m, ok := messages[r]
	if !ok {
		m = messages[ReasonRejected]
	}
	if locale == "en" {
		return m[1]
	}
	return m[0]
}
