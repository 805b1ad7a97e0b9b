package orders

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

type ShippingStatus string

// remember to add new statuses to the validShipping map
const (
	ShippingPending    ShippingStatus = "PENDING"
	ShippingInProgress ShippingStatus = "IN_PROGRESS"
	ShippingDelivered  ShippingStatus = "DELIVERED"
)

var validShipping = map[ShippingStatus]struct{}{
	ShippingPending:    {},
	ShippingInProgress: {},
	ShippingDelivered:  {},
}

func ToShippingStatus(s string) (ShippingStatus, error) {
	status := ShippingStatus(s)
	if _, ok := validShipping[status]; ok {
		return status, nil
	}
	return "", ErrInvalidStatus
}
