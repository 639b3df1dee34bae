package mocks

//go:generate mockery --name Transport --srcpkg github.com/ggaccel/edgestream/internal/forwarding --output ./forwarding --outpkg forwardingmocks --with-expecter
//go:generate mockery --name StreamStore --srcpkg github.com/ggaccel/edgestream/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
