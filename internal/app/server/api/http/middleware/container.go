package middleware

import "github.com/danielgtaylor/huma/v2"

// Container накапливает middleware для очередного обработчика.
// GetAllAndClear отдает собранный набор и очищает контейнер под
// следующий обработчик.
type Container struct {
	middlewares huma.Middlewares
}

func NewContainer() *Container {
	return &Container{}
}

func (c *Container) Add(mw func(huma.Context, func(huma.Context))) {
	c.middlewares = append(c.middlewares, mw)
}

func (c *Container) GetAllAndClear() huma.Middlewares {
	result := c.middlewares
	c.middlewares = nil
	return result
}
