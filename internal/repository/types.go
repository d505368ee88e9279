package repository

// OrderListFilter 查询订单列表的过滤条件
type OrderListFilter struct {
	Page     int
	PageSize int
	UserID   uint
	Status   string
}

// CompensationFailureFilter 查询补偿失败记录的过滤条件
type CompensationFailureFilter struct {
	Page       int
	PageSize   int
	SagaID     string
	Resource   string
	Unresolved bool
}
