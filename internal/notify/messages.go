package notify

import (
	"fmt"

	"github.com/aura-academy/backend/internal/settlement"
)

// Message is the localized text shown for a settled payment.
type Message struct {
	Title string
	Body  string
	Link  string
}

func settledMessage(locale string, ev settlement.SettledEvent) Message {
	amount := ev.Amount.StringFixed(2) + " " + ev.Currency
	link := "/my-courses"
	if ev.Target.Kind() == "course" {
		link = "/courses/" + ev.Target.ID().String() + "/learn"
	}
	if locale == "en" {
		body := fmt.Sprintf("We received your payment of %s. You now have access to %d course(s).", amount, len(ev.Enrolled))
		return Message{Title: "Payment successful", Body: body, Link: link}
	}
	body := fmt.Sprintf("เราได้รับการชำระเงิน %s เรียบร้อยแล้ว คุณสามารถเข้าเรียนได้ %d คอร์ส", amount, len(ev.Enrolled))
	return Message{Title: "ชำระเงินสำเร็จ", Body: body, Link: link}
}
