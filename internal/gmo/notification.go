package gmo

import "net/url"

// Notification is the decoded form of a gateway result callback. The gateway
// posts flat form-encoded fields; absent fields decode to empty strings.
type Notification struct {
	ShopID     string
	OrderID    string
	Amount     string
	Status     string
	JobCd      string
	AccessID   string
	AccessPass string
	Forward    string
	Approve    string
	TranID     string
	TranDate   string
	ErrCode    string
	ErrInfo    string
	HashValue  string
	PayType    string
}

// ParseNotification maps the posted form values onto a typed Notification.
func ParseNotification(values url.Values) Notification {
	return Notification{
		ShopID:     values.Get("ShopID"),
		OrderID:    values.Get("OrderID"),
		Amount:     values.Get("Amount"),
		Status:     values.Get("Status"),
		JobCd:      values.Get("JobCd"),
		AccessID:   values.Get("AccessID"),
		AccessPass: values.Get("AccessPass"),
		Forward:    values.Get("Forward"),
		Approve:    values.Get("Approve"),
		TranID:     values.Get("TranID"),
		TranDate:   values.Get("TranDate"),
		ErrCode:    values.Get("ErrCode"),
		ErrInfo:    values.Get("ErrInfo"),
		HashValue:  values.Get("HashValue"),
		PayType:    values.Get("PayType"),
	}
}
