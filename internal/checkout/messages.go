package checkout

func pendingMessage(locale string) string {
	if locale == "en" {
		return "Your slip is still being checked. Your payment will be confirmed automatically."
	}
	return "ระบบกำลังตรวจสอบสลิปของคุณ การชำระเงินจะได้รับการยืนยันโดยอัตโนมัติ"
}

func couponExhaustedMessage(locale string) string {
	if locale == "en" {
		return "This coupon ran out before your payment was confirmed. Please contact support for a refund or a new coupon."
	}
	return "คูปองนี้ถูกใช้ครบจำนวนก่อนการชำระเงินของคุณได้รับการยืนยัน กรุณาติดต่อผู้ดูแลระบบ"
}
